package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/tesouraria/brkmon/bills"
	"github.com/tesouraria/brkmon/locations"
)

func TestDirSourceFetchAndAck(t *testing.T) {
	var ctx, fs = context.Background(), afero.NewMemMapFs()
	for name, content := range map[string]string{
		"/spool/a.pdf":             "A",
		"/spool/a.pdf.yaml":        "cdc: '4521'",
		"/spool/b.PDF":             "B",
		"/spool/notes.txt":         "ignored",
		"/spool/.partial.pdf":      "ignored",
		"/spool/processed/old.pdf": "old",
	} {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0600))
	}
	var src = &DirSource{FS: fs, Dir: "/spool"}

	var docs, err = src.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	require.Equal(t, "a.pdf", docs[0].Name)
	require.Equal(t, []byte("A"), docs[0].Content)
	require.Equal(t, []byte("cdc: '4521'"), docs[0].Sidecar)
	require.Equal(t, DocumentID([]byte("A")), docs[0].ID)
	require.NotEqual(t, DocumentID([]byte("B")), docs[0].ID)

	require.Equal(t, "b.PDF", docs[1].Name)
	require.Nil(t, docs[1].Sidecar)

	require.NoError(t, src.Ack(ctx, docs[0]))
	for _, name := range []string{"/spool/processed/a.pdf", "/spool/processed/a.pdf.yaml"} {
		var ok, _ = afero.Exists(fs, name)
		require.True(t, ok, name)
	}

	docs, err = src.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "b.PDF", docs[0].Name)

	// A spool directory which doesn't exist yet has no documents.
	docs, err = (&DirSource{FS: fs, Dir: "/missing"}).Fetch(ctx)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestProvenanceExtractor(t *testing.T) {
	var ctx, ext = context.Background(), ProvenanceExtractor{}

	var d, err = ext.Extract(ctx, Document{Name: "fatura.pdf", Content: []byte("A"), SourceID: "msg-1"})
	require.NoError(t, err)
	require.Equal(t, bills.Draft{
		OriginalFilename: "fatura.pdf",
		ContentHash:      "559aead08264d5795d3909718cdd05abd49572e84fe55590eef31a88a08fdffd",
		SourceEmailID:    "msg-1",
		Observation:      NotePendingExtraction,
	}, d)

	d, err = ext.Extract(ctx, Document{Name: "fatura.pdf", Content: []byte("A"), Sidecar: []byte(`
cdc: " 4521 "
competencia: 06/2025
vencimento: 10/07/2025
valor: R$ 100,00
alerta_consumo: ALTO CONSUMO
email_id: msg-2
`)})
	require.NoError(t, err)
	require.Equal(t, "4521", d.ClientCode)
	require.Equal(t, "06/2025", d.BillingPeriod)
	require.Equal(t, "R$ 100,00", d.Amount)
	require.Equal(t, "msg-2", d.SourceEmailID)
	require.True(t, d.Valid)
	require.True(t, d.HasAlert())
	require.Empty(t, d.Observation)

	d, err = ext.Extract(ctx, Document{Name: "fatura.pdf", Sidecar: []byte("cdc: '4521'\ncompetencia: 13/2025\n")})
	require.NoError(t, err)
	require.False(t, d.Valid)
	require.Equal(t, NoteIncomplete, d.Observation)

	_, err = ext.Extract(ctx, Document{Name: "fatura.pdf", Sidecar: []byte("unknown_field: 1\n")})
	require.ErrorContains(t, err, "parsing sidecar of fatura.pdf")
}

func TestPipelineRunOnce(t *testing.T) {
	var ctx, fs = context.Background(), afero.NewMemMapFs()
	var write = func(name, content string) {
		require.NoError(t, afero.WriteFile(fs, "/spool/"+name, []byte(content), 0600))
	}
	const sidecar = "cdc: '4521'\ncompetencia: 06/2025\nvalor: R$ 100,00\n"

	write("1.pdf", "X")
	write("1.pdf.yaml", sidecar)
	write("2.pdf", "X") // Re-sent copy of 1.pdf.
	write("3.pdf", "Y")
	write("3.pdf.yaml", sidecar)
	write("4.pdf", "Z")
	write("4.pdf.yaml", "{not yaml")

	var reg, err = locations.Parse([]byte("locations:\n  - client_code: '4521'\n    casa: CASA JARDIM\n"))
	require.NoError(t, err)

	var src = &DirSource{FS: fs, Dir: "/spool"}
	var w = newFakeWriter()
	var p = NewPipeline(src, ProvenanceExtractor{}, w, reg)

	sum, err := p.RunOnce(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sum.RunID)
	sum.RunID = ""
	require.Equal(t, Summary{Fetched: 4, Written: 2, Duplicates: 1, Skipped: 1, Failed: 1}, sum)

	require.Len(t, w.drafts, 2)
	require.Equal(t, "CASA JARDIM", w.drafts[0].LocationName)
	require.Equal(t, "1.pdf", w.drafts[0].OriginalFilename)
	require.Equal(t, "3.pdf", w.drafts[1].OriginalFilename)

	// Only the failed document remains.
	docs, err := src.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "4.pdf", docs[0].Name)
	require.NoError(t, fs.Remove("/spool/4.pdf"))

	// A redelivery seen by a new Pipeline is skipped, as the store has its record.
	write("5.pdf", "X")
	p = NewPipeline(src, ProvenanceExtractor{}, w, nil)

	sum, err = p.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Skipped)
	require.Len(t, w.drafts, 2)

	// Failed writes leave the document for a later run.
	write("6.pdf", "W")
	w.fail = true

	sum, err = p.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Failed)

	w.fail = false
	sum, err = p.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Written)

	docs, err = src.Fetch(ctx)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestPipelineServe(t *testing.T) {
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var src = &countingSource{cancelAt: 3, cancel: cancel}
	var p = NewPipeline(src, ProvenanceExtractor{}, newFakeWriter(), nil)

	require.NoError(t, p.Serve(ctx, time.Millisecond))
	require.GreaterOrEqual(t, src.fetches, 3)
}

func TestPipelineServeRejectsInvalidInterval(t *testing.T) {
	var src = new(countingSource)
	var p = NewPipeline(src, ProvenanceExtractor{}, newFakeWriter(), nil)

	for _, interval := range []time.Duration{0, -time.Second} {
		require.EqualError(t, p.Serve(context.Background(), interval),
			fmt.Sprintf("invalid poll interval %s (must be positive)", interval))
	}
	require.Equal(t, 0, src.fetches)
}

type fakeWriter struct {
	mu     sync.Mutex
	drafts []bills.Draft
	keys   map[[2]string]bool
	hashes map[string]bool
	fail   bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{keys: make(map[[2]string]bool), hashes: make(map[string]bool)}
}

func (w *fakeWriter) Write(_ context.Context, d bills.Draft) bills.WriteResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fail {
		return bills.Failed(errors.New("disk full"))
	}
	var key = [2]string{d.ClientCode, d.BillingPeriod}
	var status = bills.StatusNormal
	if w.keys[key] {
		status = bills.StatusDuplicate
	}
	w.keys[key] = true
	w.hashes[d.ContentHash] = true
	w.drafts = append(w.drafts, d)

	return bills.WriteResult{
		Status:          bills.WriteSuccess,
		ID:              int64(len(w.drafts)),
		DuplicateStatus: status,
		DerivedFilename: bills.DeriveFilename(d),
	}
}

func (w *fakeWriter) HasContentHash(_ context.Context, hash string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hashes[hash], nil
}

type countingSource struct {
	fetches  int
	cancelAt int
	cancel   context.CancelFunc
}

func (s *countingSource) Fetch(context.Context) ([]Document, error) {
	if s.fetches++; s.fetches == s.cancelAt {
		s.cancel()
	}
	if s.fetches == 1 {
		return nil, errors.New("transient")
	}
	return nil, nil
}

func (s *countingSource) Ack(context.Context, Document) error { return nil }
