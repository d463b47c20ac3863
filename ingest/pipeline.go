package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"github.com/tesouraria/brkmon/bills"
	"github.com/tesouraria/brkmon/locations"
	"github.com/tesouraria/brkmon/metrics"
)

// Writer writes Drafts. *billstore.Store is a Writer.
type Writer interface {
	Write(ctx context.Context, d bills.Draft) bills.WriteResult
	HasContentHash(ctx context.Context, hash string) (bool, error)
}

// Outcomes of an ingested document.
const (
	OutcomeWritten = "written"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// DefaultSeenCacheSize is the number of recently written content hashes
// remembered by a Pipeline.
const DefaultSeenCacheSize = 1024

// Pipeline moves Documents of a Source into a Writer.
type Pipeline struct {
	source    Source
	extractor Extractor
	writer    Writer
	registry  *locations.Registry

	// Content hashes of recently written or skipped documents.
	seen *lru.Cache
}

// NewPipeline returns a Pipeline. |registry| may be nil.
func NewPipeline(src Source, ext Extractor, w Writer, registry *locations.Registry) *Pipeline {
	var seen, err = lru.New(DefaultSeenCacheSize)
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	return &Pipeline{
		source:    src,
		extractor: ext,
		writer:    w,
		registry:  registry,
		seen:      seen,
	}
}

// Summary of a Pipeline run.
type Summary struct {
	RunID      string
	Fetched    int
	Written    int
	Duplicates int // Written records classified DUPLICATA.
	Skipped    int
	Failed     int
}

// RunOnce fetches and processes the Documents of the Source. Failures of
// individual documents are logged and counted, and leave the document
// unacknowledged so that it's fetched again. Only a failed Fetch is
// returned as an error.
func (p *Pipeline) RunOnce(ctx context.Context) (Summary, error) {
	var sum = Summary{RunID: uuid.New().String()}

	var docs, err = p.source.Fetch(ctx)
	if err != nil {
		return sum, err
	}
	sum.Fetched = len(docs)

	for _, doc := range docs {
		if err = ctx.Err(); err != nil {
			return sum, nil
		}
		var outcome, res = p.process(ctx, doc)
		metrics.IngestDocumentsTotal.WithLabelValues(outcome).Inc()

		switch outcome {
		case OutcomeWritten:
			sum.Written++
			if res.DuplicateStatus == bills.StatusDuplicate {
				sum.Duplicates++
			}
		case OutcomeSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}

	if sum.Fetched != 0 {
		log.WithFields(log.Fields{
			"run":        sum.RunID,
			"fetched":    sum.Fetched,
			"written":    sum.Written,
			"duplicates": sum.Duplicates,
			"skipped":    sum.Skipped,
			"failed":     sum.Failed,
		}).Info("ingested documents")
	}
	return sum, nil
}

func (p *Pipeline) process(ctx context.Context, doc Document) (string, bills.WriteResult) {
	var hash = ContentHash(doc.Content)
	var fields = log.Fields{"doc": doc.ID, "name": doc.Name}

	if p.seen.Contains(hash) {
		log.WithFields(fields).Debug("skipping recently ingested document")
		p.ack(ctx, doc)
		return OutcomeSkipped, bills.WriteResult{}
	}
	if ok, err := p.writer.HasContentHash(ctx, hash); err != nil {
		// Not fatal: the store classifies a re-written bill as DUPLICATA.
		fields["err"] = err
		log.WithFields(fields).Warn("failed to check for an existing record of document")
		delete(fields, "err")
	} else if ok {
		log.WithFields(fields).Info("skipping document which already has a record")
		p.seen.Add(hash, doc.ID)
		p.ack(ctx, doc)
		return OutcomeSkipped, bills.WriteResult{}
	}

	var draft, err = p.extractor.Extract(ctx, doc)
	if err != nil {
		fields["err"] = err
		log.WithFields(fields).Error("failed to extract document")
		return OutcomeFailed, bills.WriteResult{}
	}
	if loc, ok := p.registry.Lookup(draft.ClientCode); ok && draft.LocationName == "" {
		draft.LocationName = loc.Name
	}

	var res = p.writer.Write(ctx, draft)
	if !res.OK() {
		fields["err"] = res.Message
		log.WithFields(fields).Error("failed to write record of document")
		return OutcomeFailed, res
	}
	p.seen.Add(hash, doc.ID)
	p.ack(ctx, doc)

	fields["id"], fields["status"], fields["file"] = res.ID, res.DuplicateStatus, res.DerivedFilename
	log.WithFields(fields).Info("ingested document")

	return OutcomeWritten, res
}

// ack failures are logged. An unacknowledged document is fetched again,
// and then skipped as already seen.
func (p *Pipeline) ack(ctx context.Context, doc Document) {
	if err := p.source.Ack(ctx, doc); err != nil {
		log.WithFields(log.Fields{
			"doc":  doc.ID,
			"name": doc.Name,
			"err":  err,
		}).Warn("failed to acknowledge document")
	}
}

// Serve runs the Pipeline every |interval| until |ctx| is cancelled.
func (p *Pipeline) Serve(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid poll interval %s (must be positive)", interval)
	}
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.WithField("err", err).Warn("failed to fetch documents (will retry)")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
