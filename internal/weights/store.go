// Package weights resolves model identifiers to local weight files,
// fetching each artifact at most once and caching it on disk.
package weights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"upscaled/internal/common/fsutil"
	"upscaled/internal/registry"
)

var fetchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "upscaled",
		Subsystem: "weights",
		Name:      "fetches_total",
		Help:      "Weight artifact fetch attempts by result",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(fetchesTotal)
}

// Store caches weight artifacts under a dedicated directory, keyed by
// model id. Concurrent first access for the same model collapses into a
// single fetch; a failed fetch never leaves a usable path behind.
type Store struct {
	dir    string
	client *http.Client
	log    zerolog.Logger
	group  singleflight.Group
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "upscaled_weights")
	}
	dir, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("weights dir: %w", err)
	}
	return &Store{
		dir:    dir,
		client: &http.Client{Timeout: 10 * time.Minute},
		log:    log,
	}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the expected local path for a model id without fetching.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+".onnx")
}

// Resolve returns the local weight file for the model, fetching it from
// the configured URL on first use. The file is written to a temp path and
// renamed into place so readers never observe a partial artifact.
func (s *Store) Resolve(ctx context.Context, cfg registry.ModelConfig) (string, error) {
	path := s.Path(cfg.ID)
	if fsutil.PathExists(path) {
		return path, nil
	}
	// Collapse concurrent first accesses into one fetch per model id.
	_, err, _ := s.group.Do(cfg.ID, func() (any, error) {
		// Re-check under the flight: another caller may have completed it.
		if fsutil.PathExists(path) {
			return nil, nil
		}
		if err := s.fetch(ctx, cfg.URL, path); err != nil {
			fetchesTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		fetchesTotal.WithLabelValues("ok").Inc()
		return nil, nil
	})
	if err != nil {
		return "", unavailableError{id: cfg.ID, cause: err}
	}
	return path, nil
}

func (s *Store) fetch(ctx context.Context, url, dst string) error {
	start := time.Now()
	s.log.Info().Str("url", url).Msg("fetching weights")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(s.dir, filepath.Base(dst)+".part-*")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name()) // no-op after a successful rename
	}()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	s.log.Info().Str("path", dst).Int64("bytes", n).Dur("dur", time.Since(start)).Msg("weights cached")
	return nil
}

// unavailableError signals a network or disk failure while resolving
// weights. The whole request is safe to retry later.
type unavailableError struct {
	id    string
	cause error
}

func (e unavailableError) Error() string { return "weights unavailable: " + e.id + ": " + e.cause.Error() }
func (e unavailableError) Unwrap() error { return e.cause }

// IsUnavailable reports whether err indicates weights could not be resolved.
func IsUnavailable(err error) bool {
	var u unavailableError
	return errors.As(err, &u)
}
