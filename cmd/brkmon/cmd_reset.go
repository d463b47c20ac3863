package main

import (
	"context"
	"fmt"
)

type cmdReset struct {
	Yes bool `long:"yes" description:"Confirm deletion of every bill record"`
}

func init() {
	commands.AddCommand("", "reset", "Delete every bill record", `
Delete every bill record and restart ID assignment, as the first step of a
full rebuild of the store. The emptied database is pushed to the remote.
`, &cmdReset{})
}

func (cmd *cmdReset) Execute([]string) error {
	var creds = startup()
	var ctx = context.Background()

	if !cmd.Yes {
		return fmt.Errorf("refusing to reset without --yes")
	}
	var provider, store = openStore(ctx, creds)
	defer provider.Close(ctx)

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	if err = store.Reset(ctx); err != nil {
		return err
	}
	if err = store.Sync(ctx); err != nil {
		return err
	}
	fmt.Printf("deleted %d records\n", stats.Total)
	return nil
}
