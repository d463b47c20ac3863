package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/tesouraria/brkmon/billstore"
	"github.com/tesouraria/brkmon/ingest"
	mbp "github.com/tesouraria/brkmon/mainboilerplate"
	"github.com/tesouraria/brkmon/metrics"
	"github.com/tesouraria/brkmon/notify"
	"github.com/tesouraria/brkmon/task"
)

type cmdServe struct {
	ID string `long:"id" env:"ID" description:"Unique ID of this process. Random if not set"`
}

func init() {
	commands.AddCommand("", "serve", "Ingest bills from the spool directory", `
Serve polls the spool directory for bill documents, writing a record of each
to the bill store and alerting the recipients of locations whose bills carry
consumption alerts.

Documents are moved to the "processed" subdirectory of the spool once their
record is written. A document may be accompanied by a YAML sidecar of its
extracted fields, named by appending ".yaml" to the document name.

Diagnostics are served at /debug/ready, /debug/metrics and /status.
SIGTERM or SIGINT stops the server, after pushing unsynced changes.
`, &cmdServe{})
}

func (cmd *cmdServe) Execute([]string) error {
	var creds = startup()
	if Config.Ingest.Interval <= 0 {
		mbp.Must(fmt.Errorf("invalid interval %s", Config.Ingest.Interval), "--ingest.interval must be positive")
	}
	if cmd.ID == "" {
		cmd.ID = petname.Generate(2, "-")
	}
	log.WithFields(log.Fields{
		"id":      cmd.ID,
		"version": mbp.Version,
		"spool":   Config.Ingest.SpoolDir,
	}).Info("starting brkmon serve")

	prometheus.MustRegister(metrics.BrkmonCollectors()...)

	var tasks = task.NewGroup(context.Background())
	var provider, store = openStore(tasks.Context(), creds)
	var registry = loadLocations(false)

	store.OnCommit("alert", notify.Alerter{Registry: registry, Notifier: notifier()}.OnCommit)

	var pipeline = ingest.NewPipeline(
		&ingest.DirSource{
			FS:         afero.NewOsFs(),
			Dir:        Config.Ingest.SpoolDir,
			Extensions: Config.Ingest.Extensions,
		},
		ingest.ProvenanceExtractor{},
		store,
		registry,
	)
	var mux = mbp.NewDiagnosticsMux(prometheus.DefaultGatherer, map[string]http.Handler{
		"/status": statusHandler(store),
	})

	tasks.QueueSignalCancel()
	tasks.Queue("ingest", func() error {
		return pipeline.Serve(tasks.Context(), Config.Ingest.Interval)
	})
	tasks.Queue("diagnostics", func() error {
		return mbp.ServeDiagnostics(tasks.Context(), Config.Diagnostics, mux)
	})
	tasks.GoRun()

	var err = tasks.Wait()

	// The Group context is cancelled: flush under a fresh one.
	var ctx, cancel = context.WithTimeout(context.Background(), Config.Store.UploadTimeout+time.Minute)
	defer cancel()

	if closeErr := provider.Close(ctx); err == nil {
		err = closeErr
	}
	return err
}

type statusResponse struct {
	Mode        string         `json:"mode"`
	Path        string         `json:"path"`
	Remote      string         `json:"remote,omitempty"`
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	SyncState   string         `json:"sync_state"`
	Dirty       bool           `json:"dirty"`
	LastSync    *time.Time     `json:"last_sync,omitempty"`
	LastFailure *time.Time     `json:"last_failure,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	Pushes      int            `json:"pushes"`
}

func statusHandler(store *billstore.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var stats, err = store.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var resp = statusResponse{
			Mode:      stats.Mode.String(),
			Path:      stats.Path,
			Total:     stats.Total,
			ByStatus:  make(map[string]int, len(stats.ByStatus)),
			SyncState: stats.Sync.State.String(),
			Dirty:     stats.Sync.Dirty,
			Pushes:    stats.Sync.Pushes,
		}
		if h := store.Remote(); h != nil {
			resp.Remote = h.String()
		}
		for status, n := range stats.ByStatus {
			resp.ByStatus[string(status)] = n
		}
		if t := stats.Sync.LastSync; !t.IsZero() {
			resp.LastSync = &t
		}
		if t := stats.Sync.LastFailure; !t.IsZero() {
			resp.LastFailure = &t
		}
		if stats.Sync.LastErr != nil {
			resp.LastError = stats.Sync.LastErr.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}
