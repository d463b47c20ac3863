package stores

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// RunCheck verifies the critical operations of a store with a round trip
// of a small test object: PUT, GET, LIST and REMOVE.
// It's tolerant of concurrent checks of the same store.
func RunCheck(ctx context.Context, s *ActiveStore) error {
	const (
		testPath    = ".test/connectivity-check"
		testContent = "connectivity-check\n"
	)
	var started = time.Now()

	// 1. PUT test file
	var content = strings.NewReader(testContent)
	if err := s.Put(ctx, testPath, content, int64(len(testContent)), "text/plain"); err != nil {
		return fmt.Errorf("check PUT failed: %w", err)
	}

	// 2. GET and verify content
	var rc, err = s.Get(ctx, testPath)
	if err != nil {
		return fmt.Errorf("check GET failed: %w", err)
	} else if rc == nil {
		return fmt.Errorf("check GET returned nil reader")
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err = io.Copy(&buf, rc); err != nil {
		return fmt.Errorf("check read failed: %w", err)
	}
	if buf.String() != testContent {
		return fmt.Errorf("check content mismatch: got %q, want %q", buf.String(), testContent)
	}

	// 3. LIST and verify file appears
	var found bool
	err = s.List(ctx, ".test/", func(path string, modTime time.Time) error {
		if path == "connectivity-check" {
			found = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("check LIST failed: %w", err)
	} else if !found {
		return fmt.Errorf("check LIST did not find test file")
	}

	// 4. REMOVE
	if err = s.Remove(ctx, testPath); err != nil {
		return fmt.Errorf("check REMOVE failed: %w", err)
	}

	log.WithFields(log.Fields{
		"store":    s.Key,
		"provider": s.Provider(),
		"elapsed":  time.Since(started),
	}).Info("store connectivity check succeeded")

	return nil
}
