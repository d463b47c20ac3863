// Package bills defines the records of processed utility bills, and the
// results reported to callers which write them.
package bills

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DuplicateStatus classifies a Record with respect to other Records sharing
// its natural key. Values other than the constants below are permitted and
// are preserved as free text.
type DuplicateStatus string

const (
	// StatusNormal is the first Record observed for its natural key.
	StatusNormal DuplicateStatus = "NORMAL"
	// StatusDuplicate is a Record whose natural key was already present.
	StatusDuplicate DuplicateStatus = "DUPLICATA"
	// StatusMissing marks an expected bill which was never received.
	StatusMissing DuplicateStatus = "FALTANTE"
)

// Draft is the caller-supplied content of a Record, prior to its insertion.
type Draft struct {
	// Natural key. Neither is unique on its own, and the pair is not
	// unique-enforced by the store.
	ClientCode    string // CDC of the water utility account.
	BillingPeriod string // Competência, as "MM/YYYY".

	LocationName          string // Casa de Oração served by the account.
	EmissionDate          string
	DueDate               string
	Amount                string // Formatted amount, currency symbol retained ("R$ 100,00").
	MeasuredConsumption   string
	BilledConsumption     string
	AverageConsumption    string // Six-month average.
	ConsumptionPercentage string
	AlertLevel            string // Free text, eg "NORMAL", "ALTO CONSUMO".
	Valid                 bool

	SourceEmailID    string
	OriginalFilename string
	ContentHash      string
	Observation      string
}

// Record is a Draft which has been inserted into the store.
type Record struct {
	ID int64
	Draft

	DerivedFilename string
	DuplicateStatus DuplicateStatus
	ProcessedAt     time.Time
}

// NaturalKey returns the trimmed (ClientCode, BillingPeriod) of the Draft.
func (d Draft) NaturalKey() (clientCode, period string) {
	return strings.TrimSpace(d.ClientCode), strings.TrimSpace(d.BillingPeriod)
}

// HasAlert is true if the Draft carries an AlertLevel other than normal.
func (d Draft) HasAlert() bool {
	var lvl = strings.ToUpper(strings.TrimSpace(d.AlertLevel))
	return lvl != "" && lvl != "NORMAL"
}

// ParsePeriod parses a billing period of the form "MM/YYYY".
func ParsePeriod(period string) (year, month int, err error) {
	var parts = strings.Split(strings.TrimSpace(period), "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid billing period %q (expected MM/YYYY)", period)
	}
	if month, err = strconv.Atoi(parts[0]); err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid month in billing period %q", period)
	}
	if year, err = strconv.Atoi(parts[1]); err != nil || year < 1900 || year > 9999 {
		return 0, 0, fmt.Errorf("invalid year in billing period %q", period)
	}
	return year, month, nil
}

// FormatPeriod returns the "MM/YYYY" billing period of |year| and |month|.
func FormatPeriod(year, month int) string {
	return fmt.Sprintf("%02d/%04d", month, year)
}
