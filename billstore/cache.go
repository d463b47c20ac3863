package billstore

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Cache manages the local files which hold working copies of the database.
// Acquired files are private to the process and removed on Release. The
// permanent fallback path is never removed.
type Cache struct {
	fs        afero.Fs
	dir       string
	permanent string
}

// NewCache returns a Cache of temporary files within |dir| and the
// permanent fallback database at |permanent|.
func NewCache(fs afero.Fs, dir, permanent string) *Cache {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Cache{fs: fs, dir: dir, permanent: filepath.Clean(permanent)}
}

// Acquire creates and returns the path of a new, empty, owner-only file.
func (c *Cache) Acquire() (string, error) {
	if err := c.fs.MkdirAll(c.dir, 0700); err != nil {
		return "", err
	}
	var f, err = afero.TempFile(c.fs, c.dir, "brkmon-*.db")
	if err != nil {
		return "", err
	}
	var path = f.Name()

	if err = f.Close(); err == nil {
		err = c.fs.Chmod(path, 0600)
	}
	if err != nil {
		_ = c.fs.Remove(path)
		return "", err
	}
	return path, nil
}

// Release removes |path| and the journal files SQLite may have left beside
// it. Releasing the permanent path, or an empty path, does nothing.
func (c *Cache) Release(path string) error {
	if path == "" || c.IsPermanent(path) {
		return nil
	}
	var firstErr error
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		if err := c.fs.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			log.WithFields(log.Fields{"path": path + suffix, "err": err}).
				Warn("failed to remove cached database file")

			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Permanent returns the permanent fallback path, creating its parent
// directory with owner-only permissions.
func (c *Cache) Permanent() (string, error) {
	if err := c.fs.MkdirAll(filepath.Dir(c.permanent), 0700); err != nil {
		return "", err
	}
	return c.permanent, nil
}

// IsPermanent returns whether |path| is the permanent fallback path.
func (c *Cache) IsPermanent(path string) bool {
	return filepath.Clean(path) == c.permanent
}
