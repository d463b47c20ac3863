// Package ingest feeds bill documents from a Source through extraction and
// into the bill store. Documents are acknowledged to their Source only
// after their record committed, or once they're known to be redeliveries.
package ingest

import (
	"context"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Document is a bill document awaiting ingestion.
type Document struct {
	// ID is derived from the Document content, and is stable across
	// redeliveries of the same document.
	ID      string
	Name    string
	Content []byte
	ModTime time.Time
	// Sidecar is the content of an optional companion file of extracted
	// fields (see SidecarSuffix).
	Sidecar []byte
	// SourceID identifies the document within its Source, such as the
	// e-mail message which carried it. Optional.
	SourceID string
}

// Source is a source of bill Documents.
type Source interface {
	// Fetch returns Documents which haven't been acknowledged.
	Fetch(ctx context.Context) ([]Document, error)
	// Ack marks the Document as processed. It's not fetched again.
	Ack(ctx context.Context, doc Document) error
}

// SidecarSuffix is appended to a document name to form the name of its
// sidecar: a YAML document of fields extracted from it.
const SidecarSuffix = ".yaml"

// ProcessedDir is the subdirectory of a DirSource into which acknowledged
// documents are moved.
const ProcessedDir = "processed"

var documentNamespace = uuid.MustParse("5d1e2a4c-8f0b-4a51-9d57-3c2b6e0f9a17")

// DocumentID returns the stable ID of a document having |content|.
func DocumentID(content []byte) string {
	return uuid.NewSHA1(documentNamespace, content).String()
}

// DirSource is a Source of files within a spool directory.
type DirSource struct {
	FS  afero.Fs
	Dir string
	// Extensions of document files, matched without regard to case.
	// If empty, ".pdf" is used.
	Extensions []string
}

// Fetch returns the documents of the spool directory, ordered on name.
func (s *DirSource) Fetch(ctx context.Context) ([]Document, error) {
	var infos, err = afero.ReadDir(s.FS, s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.WithMessagef(err, "reading spool directory %s", s.Dir)
	}

	var out []Document
	for _, info := range infos {
		if err = ctx.Err(); err != nil {
			return nil, err
		} else if info.IsDir() || strings.HasPrefix(info.Name(), ".") || !s.matches(info.Name()) {
			continue
		}

		var doc = Document{Name: info.Name(), ModTime: info.ModTime()}
		if doc.Content, err = afero.ReadFile(s.FS, path.Join(s.Dir, doc.Name)); err != nil {
			return nil, pkgerrors.WithMessagef(err, "reading %s", doc.Name)
		}
		doc.ID = DocumentID(doc.Content)

		if b, err := afero.ReadFile(s.FS, path.Join(s.Dir, doc.Name+SidecarSuffix)); err == nil {
			doc.Sidecar = b
		} else if !os.IsNotExist(err) {
			return nil, pkgerrors.WithMessagef(err, "reading sidecar of %s", doc.Name)
		}
		out = append(out, doc)
	}
	return out, nil
}

// Ack moves the document, and its sidecar, into ProcessedDir.
func (s *DirSource) Ack(_ context.Context, doc Document) error {
	var dest = path.Join(s.Dir, ProcessedDir)
	if err := s.FS.MkdirAll(dest, 0700); err != nil {
		return err
	}
	if err := s.FS.Rename(path.Join(s.Dir, doc.Name), path.Join(dest, doc.Name)); err != nil {
		return err
	}
	if doc.Sidecar != nil {
		var name = doc.Name + SidecarSuffix
		if err := s.FS.Rename(path.Join(s.Dir, name), path.Join(dest, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (s *DirSource) matches(name string) bool {
	var exts = s.Extensions
	if len(exts) == 0 {
		exts = []string{".pdf"}
	}
	var ext = path.Ext(name)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}
