// Package screenshot keeps the temporary screenshot files of a run. Every file
// it writes carries the reserved prefix so that it can be purged at test end
// without touching anything else in the directory.
package screenshot

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"smartlocate/internal/config"
	"strings"

	"github.com/google/uuid"
)

const (
	Prefix    = "temp-devtools-"
	Extension = ".png"
)

// selectorNamespace seeds the per-selector file names.
var selectorNamespace = uuid.MustParse("6f1c8a52-4d0e-4f5e-9a57-1b3c2d4e5f60")

// SelectorName returns a stable temporary name for selector, so repeated
// captures for the same selector overwrite one file.
func SelectorName(selector string) string {
	return Prefix + uuid.NewSHA1(selectorNamespace, []byte(selector)).String()
}

type Store struct {
	dir string
}

func NewStore(conf *config.Config) *Store {
	return &Store{dir: conf.ScreenshotConfig.Dir}
}

func NewStoreAt(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes content as <dir>/<name>.png and returns the path.
func (s *Store) Save(name string, content []byte) (string, error) {
	if !strings.HasPrefix(name, Prefix) {
		name = Prefix + name
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}

	path := filepath.Join(s.dir, name+Extension)

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}

	return path, nil
}

// Purge removes every temporary screenshot below the directory and returns
// the removed paths. Removal continues past individual failures.
func (s *Store) Purge() ([]string, error) {
	var (
		removed []string
		errs    []error
	)

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.dir && os.IsNotExist(err) {
				return fs.SkipAll
			}

			return err
		}

		if d.IsDir() || !isTemp(d.Name()) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			errs = append(errs, fmt.Errorf("delete temp image %s: %w", path, err))

			return nil
		}

		removed = append(removed, path)

		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return removed, fmt.Errorf("purge screenshots: %w", errors.Join(errs...))
	}

	return removed, nil
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, Prefix) && strings.HasSuffix(name, Extension)
}

// Multiplier returns the display scaling of a PNG screenshot relative to the
// viewport width, i.e. the device pixel ratio it was captured at.
func Multiplier(content []byte, viewportWidth float64) (float64, error) {
	if viewportWidth <= 0 {
		return 0, fmt.Errorf("invalid viewport width %v", viewportWidth)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return 0, fmt.Errorf("read png dimensions: %w", err)
	}

	return float64(cfg.Width) / viewportWidth, nil
}
