package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/tesouraria/brkmon/bills"
)

var errUnconfiguredLocations = errors.New("--ingest.locations is not set")

type cmdMissing struct {
	Period string `long:"period" required:"true" description:"Billing period (competência) to check, as MM/YYYY"`
}

func init() {
	commands.AddCommand("", "missing", "List locations lacking a bill", `
List the registered locations which have no bill record of a billing period.
Such bills are reported as FALTANTE.

>    brkmon missing --period 06/2025 --ingest.locations locations.yaml
`, &cmdMissing{})
}

func (cmd *cmdMissing) Execute([]string) error {
	var creds = startup()
	var ctx = context.Background()

	if _, _, err := bills.ParsePeriod(cmd.Period); err != nil {
		return err
	}
	var registry = loadLocations(true)

	var provider, store = openStore(ctx, creds)
	defer provider.Close(ctx)

	var missing, err = store.Missing(ctx, cmd.Period, registry.ClientCodes())
	if err != nil {
		return err
	}

	var table = tablewriter.NewWriter(os.Stdout)
	table.Header("CDC", "Casa", "Competência", "Status")

	for _, cdc := range missing {
		var loc, _ = registry.Lookup(cdc)
		if err = table.Append([]string{cdc, loc.Name, cmd.Period, string(bills.StatusMissing)}); err != nil {
			return err
		}
	}
	if err = table.Render(); err != nil {
		return err
	}
	fmt.Printf("%d of %d locations lack a bill of %s\n", len(missing), registry.Len(), cmd.Period)
	return nil
}
