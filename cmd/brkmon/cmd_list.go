package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/tesouraria/brkmon/billstore"
	"github.com/tesouraria/brkmon/bills"
)

type cmdList struct {
	Period string `long:"period" description:"Billing period (competência) to list, as MM/YYYY"`
	Status string `long:"status" description:"Duplicate status to list, eg NORMAL or DUPLICATA"`
	CDC    string `long:"cdc" description:"Client code to list"`
	Casa   string `long:"casa" description:"Casa de oração to list"`
	Limit  int    `long:"limit" default:"0" description:"Maximum number of records. Zero is unlimited"`
}

func init() {
	commands.AddCommand("", "list", "List bill records", `
List bill records as a table, ordered on ID. Filters are combined.

List the duplicate bills of a month:
>    brkmon list --period 06/2025 --status DUPLICATA
`, &cmdList{})
}

func (cmd *cmdList) Execute([]string) error {
	var creds = startup()
	var ctx = context.Background()

	var provider, store = openStore(ctx, creds)
	defer provider.Close(ctx)

	var recs, err = store.List(ctx, billstore.Filter{
		BillingPeriod:   cmd.Period,
		DuplicateStatus: bills.DuplicateStatus(cmd.Status),
		ClientCode:      cmd.CDC,
		LocationName:    cmd.Casa,
		Limit:           cmd.Limit,
	})
	if err != nil {
		return err
	}

	var table = tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "CDC", "Casa", "Competência", "Vencimento", "Valor", "Alerta", "Status", "Processado")

	for _, r := range recs {
		if err = table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			r.ClientCode,
			r.LocationName,
			r.BillingPeriod,
			r.DueDate,
			r.Amount,
			r.AlertLevel,
			string(r.DuplicateStatus),
			humanize.Time(r.ProcessedAt),
		}); err != nil {
			return err
		}
	}
	if err = table.Render(); err != nil {
		return err
	}

	var status = store.SyncStatus()
	var synced = "never"
	if !status.LastSync.IsZero() {
		synced = humanize.Time(status.LastSync)
	}
	fmt.Printf("%d records; store mode %s, last synced %s\n", len(recs), store.Mode(), synced)
	return nil
}
