package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tesouraria/brkmon/report"
	"github.com/tesouraria/brkmon/stores"
)

type cmdReport struct {
	Year   int    `long:"year" description:"Year of the report. Defaults to that of the previous month"`
	Month  int    `long:"month" description:"Month of the report. Defaults to the previous month"`
	Output string `long:"output" short:"o" description:"Write the report to this local file, rather than publishing it to --report.root"`
	SendTo string `long:"send-to" description:"Also send the report to this notification recipient"`
}

func init() {
	commands.AddCommand("", "report", "Render and publish a monthly report", `
Render the bill records of a month as an XLSX spreadsheet, and publish it
under the report root as <subfolder>/<YYYY>/<MM>/BRK-Faturas-<YYYY>-<MM>.xlsx.

Publish the report of June 2025:
>    brkmon report --year 2025 --month 6 --report.root graph://me/Tesouraria/
`, &cmdReport{})
}

func (cmd *cmdReport) Execute([]string) error {
	var creds = startup()
	var ctx = context.Background()

	if cmd.Year == 0 || cmd.Month == 0 {
		var prev = time.Now().AddDate(0, -1, 0)
		cmd.Year, cmd.Month = prev.Year(), int(prev.Month())
	}
	if cmd.Output == "" && Config.Report.Root == "" {
		return fmt.Errorf("one of --output or --report.root is required")
	}

	var provider, store = openStore(ctx, creds)
	defer provider.Close(ctx)

	var recs, err = store.ListByMonth(ctx, cmd.Year, cmd.Month)
	if err != nil {
		return err
	}
	var renderer = report.XLSX{}
	var name = report.Filename(cmd.Year, cmd.Month)

	content, err := renderer.Render(recs, cmd.Year, cmd.Month)
	if err != nil {
		return err
	}

	if cmd.Output != "" {
		if err = os.WriteFile(cmd.Output, content, 0644); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d records, %s)\n", cmd.Output, len(recs), humanize.Bytes(uint64(len(content))))
	} else {
		var root = stores.Endpoint(Config.Report.Root)
		if err = root.Validate(); err != nil {
			return err
		}
		h, err := report.Publish(ctx, new(stores.Client), root, Config.Report.Subfolder,
			cmd.Year, cmd.Month, name, renderer.ContentType(), content)
		if err != nil {
			return err
		}
		fmt.Printf("published %s (%d records, %s)\n", h, len(recs), humanize.Bytes(uint64(len(content))))
	}

	if cmd.SendTo != "" {
		var text = fmt.Sprintf("Relatório BRK %02d/%04d: %d faturas", cmd.Month, cmd.Year, len(recs))
		if _, err = notifier().Send(ctx, cmd.SendTo, text, content, name); err != nil {
			return err
		}
	}
	return nil
}
