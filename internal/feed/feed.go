// Package feed reads aircraft snapshots from a readsb receiver. A snapshot
// is one aircraft.json document; the collector polls a Source once per run.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"adsb_tracker/internal/adsb"
)

// Source produces the current aircraft snapshot. An error means the feed
// is unavailable and the run has no batch to process.
type Source interface {
	Fetch(ctx context.Context) (*adsb.Snapshot, error)
}

// FileSource reads aircraft.json from the local filesystem, the usual
// setup when running on the receiver host itself.
type FileSource struct {
	Path string
}

// NewFileSource creates a source reading the given aircraft.json path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Fetch(_ context.Context) (*adsb.Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := adsb.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.Path, err)
	}
	return snap, nil
}

// HTTPSource polls aircraft.json over HTTP from a remote receiver.
type HTTPSource struct {
	url  string
	http *http.Client
}

// NewHTTPSource creates a source polling the given URL.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) (*adsb.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch snapshot: status %d from %s", resp.StatusCode, s.url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	snap, err := adsb.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot from %s: %w", s.url, err)
	}
	return snap, nil
}
