package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/tesouraria/brkmon/bills"
	"gopkg.in/yaml.v2"
)

// Extractor maps a Document to the Draft of its record.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (bills.Draft, error)
}

// ContentHash is the hex SHA-256 of |content|.
func ContentHash(content []byte) string {
	var sum = sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Observations recorded by the ProvenanceExtractor.
const (
	NotePendingExtraction = "fields pending extraction"
	NoteIncomplete        = "extracted fields are incomplete"
)

// ProvenanceExtractor fills the provenance fields of a Draft. Content
// fields are taken from the Document's sidecar, where present. Documents
// without a sidecar produce Drafts with empty content fields, which are
// noted as pending extraction.
type ProvenanceExtractor struct{}

// sidecar fields use the column names of the bill table.
type sidecar struct {
	ClientCode            string `yaml:"cdc"`
	BillingPeriod         string `yaml:"competencia"`
	LocationName          string `yaml:"casa_oracao"`
	EmissionDate          string `yaml:"data_emissao"`
	DueDate               string `yaml:"vencimento"`
	Amount                string `yaml:"valor"`
	MeasuredConsumption   string `yaml:"medido_real"`
	BilledConsumption     string `yaml:"faturado"`
	AverageConsumption    string `yaml:"media_6m"`
	ConsumptionPercentage string `yaml:"porcentagem_consumo"`
	AlertLevel            string `yaml:"alerta_consumo"`
	EmailID               string `yaml:"email_id"`
}

// Extract the Draft of |doc|.
func (ProvenanceExtractor) Extract(_ context.Context, doc Document) (bills.Draft, error) {
	var d = bills.Draft{
		OriginalFilename: doc.Name,
		ContentHash:      ContentHash(doc.Content),
		SourceEmailID:    doc.SourceID,
	}
	if doc.Sidecar == nil {
		d.Observation = NotePendingExtraction
		return d, nil
	}

	var sc sidecar
	if err := yaml.UnmarshalStrict(doc.Sidecar, &sc); err != nil {
		return d, pkgerrors.WithMessagef(err, "parsing sidecar of %s", doc.Name)
	}
	d.ClientCode = strings.TrimSpace(sc.ClientCode)
	d.BillingPeriod = strings.TrimSpace(sc.BillingPeriod)
	d.LocationName = sc.LocationName
	d.EmissionDate = sc.EmissionDate
	d.DueDate = sc.DueDate
	d.Amount = sc.Amount
	d.MeasuredConsumption = sc.MeasuredConsumption
	d.BilledConsumption = sc.BilledConsumption
	d.AverageConsumption = sc.AverageConsumption
	d.ConsumptionPercentage = sc.ConsumptionPercentage
	d.AlertLevel = sc.AlertLevel

	if sc.EmailID != "" {
		d.SourceEmailID = sc.EmailID
	}

	var _, _, periodErr = bills.ParsePeriod(d.BillingPeriod)
	d.Valid = d.ClientCode != "" && periodErr == nil && d.Amount != ""

	if !d.Valid {
		d.Observation = NoteIncomplete
	}
	return d, nil
}
