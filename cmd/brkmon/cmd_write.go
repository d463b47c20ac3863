package main

import (
	"context"
	"fmt"

	"github.com/tesouraria/brkmon/bills"
	"github.com/tesouraria/brkmon/notify"
)

type cmdWrite struct {
	ClientCode    string `long:"cdc" required:"true" description:"Client code (CDC) of the bill"`
	BillingPeriod string `long:"period" required:"true" description:"Billing period (competência), as MM/YYYY"`
	Location      string `long:"casa" description:"Casa de oração of the bill. Defaults to the registered location of the CDC"`
	EmissionDate  string `long:"emission" description:"Emission date"`
	DueDate       string `long:"due" description:"Due date"`
	Amount        string `long:"amount" description:"Amount, eg 'R$ 100,00'"`
	Measured      string `long:"measured" description:"Measured consumption"`
	Billed        string `long:"billed" description:"Billed consumption"`
	Average       string `long:"average" description:"Six-month average consumption"`
	Percentage    string `long:"percentage" description:"Consumption variation from the average"`
	Alert         string `long:"alert" default:"NORMAL" description:"Consumption alert level"`
	Observation   string `long:"observation" description:"Free-text note"`
	Alerts        bool   `long:"alerts" description:"Notify the location's recipient if the bill has an alert"`
}

func init() {
	commands.AddCommand("", "write", "Write a bill record", `
Write a record of a bill entered by hand. The record is classified DUPLICATA
if a record of the same CDC and billing period exists, and NORMAL otherwise.

Example:
>    brkmon write --cdc 4521 --period 06/2025 --amount "R$ 100,00" --due 10/07/2025
`, &cmdWrite{})
}

func (cmd *cmdWrite) Execute([]string) error {
	var creds = startup()
	var ctx = context.Background()

	if _, _, err := bills.ParsePeriod(cmd.BillingPeriod); err != nil {
		return err
	}
	var provider, store = openStore(ctx, creds)
	defer provider.Close(ctx)

	var registry = loadLocations(false)
	if cmd.Alerts {
		store.OnCommit("alert", notify.Alerter{Registry: registry, Notifier: notifier()}.OnCommit)
	}

	var d = bills.Draft{
		ClientCode:            cmd.ClientCode,
		BillingPeriod:         cmd.BillingPeriod,
		LocationName:          cmd.Location,
		EmissionDate:          cmd.EmissionDate,
		DueDate:               cmd.DueDate,
		Amount:                cmd.Amount,
		MeasuredConsumption:   cmd.Measured,
		BilledConsumption:     cmd.Billed,
		AverageConsumption:    cmd.Average,
		ConsumptionPercentage: cmd.Percentage,
		AlertLevel:            cmd.Alert,
		Valid:                 true,
		Observation:           cmd.Observation,
	}
	if loc, ok := registry.Lookup(d.ClientCode); ok && d.LocationName == "" {
		d.LocationName = loc.Name
	}

	var res = store.Write(ctx, d)
	if !res.OK() {
		return fmt.Errorf("write failed: %s", res.Message)
	}
	fmt.Printf("wrote record %d (%s): %s\n", res.ID, res.DuplicateStatus, res.DerivedFilename)
	return nil
}
