// Package notify delivers alerts about written bills to the people
// responsible for their locations.
package notify

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tesouraria/brkmon/bills"
	"github.com/tesouraria/brkmon/locations"
	"github.com/tesouraria/brkmon/metrics"
)

// Notifier sends a message, with an optional attachment, to a recipient.
// It returns whether the message was delivered.
type Notifier interface {
	Send(ctx context.Context, recipient, text string, attachment []byte, attachmentName string) (bool, error)
}

// Log is a Notifier which logs messages rather than sending them.
type Log struct{}

// Send logs the message and returns true.
func (Log) Send(_ context.Context, recipient, text string, attachment []byte, attachmentName string) (bool, error) {
	log.WithFields(log.Fields{
		"recipient":  recipient,
		"text":       text,
		"attachment": attachmentName,
		"size":       len(attachment),
	}).Info("notification (dry-run)")
	return true, nil
}

// Alerter notifies the recipient of a bill's location when the bill
// carries a consumption alert. Its OnCommit is a billstore.PostCommit.
type Alerter struct {
	Registry *locations.Registry
	Notifier Notifier
}

// OnCommit sends an alert for |rec|, if it has one and its location has a
// recipient. Records of unknown locations, or without alerts, are ignored.
func (a Alerter) OnCommit(ctx context.Context, rec bills.Record) error {
	if !rec.HasAlert() {
		return nil
	}
	var loc, ok = a.Registry.Lookup(rec.ClientCode)
	if !ok || loc.Recipient == "" {
		metrics.AlertsTotal.WithLabelValues("unrouted").Inc()
		log.WithFields(log.Fields{
			"id":    rec.ID,
			"cdc":   rec.ClientCode,
			"alert": rec.AlertLevel,
		}).Warn("bill has an alert, but its location has no recipient")
		return nil
	}

	var sent, err = a.Notifier.Send(ctx, loc.Recipient, AlertText(rec, loc), nil, "")
	if err != nil {
		metrics.AlertsTotal.WithLabelValues(metrics.Fail).Inc()
		return fmt.Errorf("sending alert of record %d: %w", rec.ID, err)
	} else if !sent {
		metrics.AlertsTotal.WithLabelValues(metrics.Fail).Inc()
		return fmt.Errorf("alert of record %d was not delivered", rec.ID)
	}
	metrics.AlertsTotal.WithLabelValues(metrics.Ok).Inc()
	return nil
}

// AlertText formats the alert message of a Record.
func AlertText(rec bills.Record, loc locations.Location) string {
	var name = rec.LocationName
	if name == "" {
		name = loc.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %s: %s\n", strings.ToUpper(strings.TrimSpace(rec.AlertLevel)), name)
	fmt.Fprintf(&b, "CDC %s, competência %s\n", rec.ClientCode, rec.BillingPeriod)

	for _, f := range []struct{ label, value string }{
		{"Consumo medido", rec.MeasuredConsumption},
		{"Média 6 meses", rec.AverageConsumption},
		{"Variação", rec.ConsumptionPercentage},
		{"Valor", rec.Amount},
		{"Vencimento", rec.DueDate},
	} {
		if f.value != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.label, f.value)
		}
	}
	if rec.DuplicateStatus == bills.StatusDuplicate {
		b.WriteString("Fatura já registrada para esta competência (DUPLICATA).\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
