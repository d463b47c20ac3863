package report

import (
	"fmt"
	"sort"

	"github.com/tesouraria/brkmon/bills"
	"github.com/xuri/excelize/v2"
)

// XLSXContentType is the content type of XLSX documents.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// XLSX renders Records as an Excel workbook with a sheet of the month's
// bills and a summary sheet.
type XLSX struct{}

var _ Renderer = XLSX{}

var columns = []struct {
	title string
	width float64
	value func(bills.Record) interface{}
}{
	{"ID", 6, func(r bills.Record) interface{} { return r.ID }},
	{"CDC", 12, func(r bills.Record) interface{} { return r.ClientCode }},
	{"Casa de Oração", 28, func(r bills.Record) interface{} { return r.LocationName }},
	{"Competência", 12, func(r bills.Record) interface{} { return r.BillingPeriod }},
	{"Emissão", 12, func(r bills.Record) interface{} { return r.EmissionDate }},
	{"Vencimento", 12, func(r bills.Record) interface{} { return r.DueDate }},
	{"Valor", 14, func(r bills.Record) interface{} { return r.Amount }},
	{"Medido", 10, func(r bills.Record) interface{} { return r.MeasuredConsumption }},
	{"Faturado", 10, func(r bills.Record) interface{} { return r.BilledConsumption }},
	{"Média 6m", 10, func(r bills.Record) interface{} { return r.AverageConsumption }},
	{"Variação", 10, func(r bills.Record) interface{} { return r.ConsumptionPercentage }},
	{"Alerta", 16, func(r bills.Record) interface{} { return r.AlertLevel }},
	{"Status", 12, func(r bills.Record) interface{} { return string(r.DuplicateStatus) }},
	{"Arquivo", 48, func(r bills.Record) interface{} { return r.DerivedFilename }},
	{"Processado em", 20, func(r bills.Record) interface{} {
		if r.ProcessedAt.IsZero() {
			return ""
		}
		return r.ProcessedAt.Format("2006-01-02 15:04:05")
	}},
	{"Observação", 40, func(r bills.Record) interface{} { return r.Observation }},
}

// SheetName returns the name of the bills sheet of |year| and |month|.
func SheetName(year, month int) string { return fmt.Sprintf("Faturas %02d-%04d", month, year) }

// SummarySheet is the name of the summary sheet.
const SummarySheet = "Resumo"

// ContentType returns XLSXContentType.
func (XLSX) ContentType() string { return XLSXContentType }

// Render the workbook of |records|.
func (XLSX) Render(records []bills.Record, year, month int) ([]byte, error) {
	var f = excelize.NewFile()
	defer f.Close()

	var sheet = SheetName(year, month)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	var header = make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c.title

		var col, _ = excelize.ColumnNumberToName(i + 1)
		if err = f.SetColWidth(sheet, col, col, c.width); err != nil {
			return nil, err
		}
	}
	if err = f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(columns))
	if err = f.SetCellStyle(sheet, "A1", lastCol+"1", bold); err != nil {
		return nil, err
	}

	for i, rec := range records {
		var row = make([]interface{}, len(columns))
		for j, c := range columns {
			row[j] = c.value(rec)
		}
		var cell, _ = excelize.CoordinatesToCellName(1, i+2)
		if err = f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}
	if len(records) != 0 {
		if err = f.AutoFilter(sheet, fmt.Sprintf("A1:%s%d", lastCol, len(records)+1), nil); err != nil {
			return nil, err
		}
	}
	if err = f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}

	if err = renderSummary(f, records, year, month, bold); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderSummary(f *excelize.File, records []bills.Record, year, month, bold int) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return err
	}

	var byStatus = make(map[bills.DuplicateStatus]int)
	var alerts int
	for _, r := range records {
		byStatus[r.DuplicateStatus]++
		if r.HasAlert() {
			alerts++
		}
	}
	var statuses = make([]string, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	var rows = [][]interface{}{
		{"Competência", bills.FormatPeriod(year, month)},
		{"Total de faturas", len(records)},
		{"Com alerta de consumo", alerts},
	}
	for _, s := range statuses {
		rows = append(rows, []interface{}{"Status " + s, byStatus[bills.DuplicateStatus(s)]})
	}
	for i := range rows {
		var cell, _ = excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(SummarySheet, "A", "A", 28); err != nil {
		return err
	}
	return f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(rows)), bold)
}
