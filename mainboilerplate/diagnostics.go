// Package mainboilerplate contains shared boilerplate of brkmon programs:
// configuration parsing, logging, and diagnostics.
package mainboilerplate

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// DiagnosticsConfig configures the diagnostics HTTP server.
type DiagnosticsConfig struct {
	Port string `long:"port" env:"PORT" default:"8080" description:"Port of the diagnostics HTTP server. Empty disables the server"`
}

// NewDiagnosticsMux returns a ServeMux serving a liveness check at
// /debug/ready and metrics of |gatherer| at /debug/metrics. Additional
// |handlers| are served at their keyed paths.
func NewDiagnosticsMux(gatherer prometheus.Gatherer, handlers map[string]http.Handler) *http.ServeMux {
	var mux = http.NewServeMux()

	mux.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/debug/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	for path, h := range handlers {
		mux.Handle(path, h)
	}
	return mux
}

// ServeDiagnostics serves |handler| on the configured port until |ctx| is
// cancelled, and then shuts down gracefully.
func ServeDiagnostics(ctx context.Context, cfg DiagnosticsConfig, handler http.Handler) error {
	if cfg.Port == "" {
		<-ctx.Done()
		return nil
	}
	var ln, err = net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return err
	}
	var srv = &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()

		var shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", ln.Addr().String()).Info("serving diagnostics")

	if err = srv.Serve(ln); err == http.ErrServerClosed {
		err = nil
	}
	return err
}

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}
