// Package report renders monthly spreadsheets of bill records and publishes
// them to a remote store, under /<root>/<subfolder>/<YYYY>/<MM>/<name>.
package report

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tesouraria/brkmon/bills"
	"github.com/tesouraria/brkmon/metrics"
	"github.com/tesouraria/brkmon/stores"
)

// Renderer renders the Records of a month into a document.
type Renderer interface {
	Render(records []bills.Record, year, month int) ([]byte, error)
	// ContentType of rendered documents.
	ContentType() string
}

// Uploader uploads documents. *stores.Client is an Uploader.
type Uploader interface {
	Upload(ctx context.Context, folder stores.Endpoint, name string, content []byte, contentType string) (stores.FileHandle, error)
}

// Folder returns the folder of reports of |year| and |month|.
func Folder(root stores.Endpoint, subfolder string, year, month int) stores.Endpoint {
	return root.Join(subfolder, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month))
}

// Filename returns the default report name of |year| and |month|.
func Filename(year, month int) string {
	return fmt.Sprintf("BRK-Faturas-%04d-%02d.xlsx", year, month)
}

// Publish uploads |content| as |name| within the Folder of |year| and |month|.
func Publish(ctx context.Context, up Uploader, root stores.Endpoint, subfolder string,
	year, month int, name, contentType string, content []byte) (stores.FileHandle, error) {

	if month < 1 || month > 12 {
		return stores.FileHandle{}, fmt.Errorf("invalid month %d", month)
	}
	var folder = Folder(root, subfolder, year, month)

	var h, err = up.Upload(ctx, folder, name, content, contentType)
	if err != nil {
		metrics.ReportsPublishedTotal.WithLabelValues(metrics.Fail).Inc()
		return h, err
	}
	metrics.ReportsPublishedTotal.WithLabelValues(metrics.Ok).Inc()

	log.WithFields(log.Fields{
		"report": h.String(),
		"size":   len(content),
	}).Info("published report")

	return h, nil
}
