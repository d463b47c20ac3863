package main

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tesouraria/brkmon/stores"
)

type cmdCheckRemote struct {
	Remote struct {
		URL stores.Endpoint `positional-arg-name:"REMOTE_URL" description:"Remote folder to check. Defaults to --store.remote"`
	} `positional-args:"yes"`
}

func init() {
	commands.AddCommand("", "check-remote", "Check connectivity of a remote store", `
Check that a remote folder can be written, read, listed and removed from, by
round-tripping a test object at .test/connectivity-check within it.

Examples:

Check the configured remote:
>  brkmon check-remote

Check a OneDrive folder:
>  brkmon check-remote graph://me/Faturas/

Check an S3 prefix:
>  brkmon check-remote s3://my-bucket/brk/
`, &cmdCheckRemote{})
}

func (cmd *cmdCheckRemote) Execute([]string) error {
	var creds = startup()
	var ctx = context.Background()

	var ep = cmd.Remote.URL
	if ep == "" {
		ep = stores.Endpoint(Config.Store.Remote)
	}
	if err := ep.Validate(); err != nil {
		return err
	}
	var active, err = stores.Get(ep)
	if err != nil {
		return err
	}

	if err = stores.RunCheck(ctx, active); err != nil && active.IsAuthError(err) {
		log.WithField("err", err).Info("remote rejected credentials; refreshing and retrying")

		if ok, rErr := creds.Refresh(ctx); rErr != nil {
			return errors.Join(err, rErr)
		} else if ok {
			err = stores.RunCheck(ctx, active)
		}
	}
	if err != nil {
		return fmt.Errorf("remote store %s is unhealthy: %w", ep, err)
	}
	fmt.Printf("remote store %s (%s) is healthy\n", ep, active.Provider())
	return nil
}
