package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const sampleSnapshot = `{
	"now": 1741946400.0,
	"aircraft": [
		{"hex": "3c6444", "flight": "DLH400  ", "t": "B744", "squawk": "1000", "alt_baro": 30000, "lat": 50.1, "lon": 8.6},
		{"hex": "400abc"}
	]
}`

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aircraft.json")
	if err := os.WriteFile(path, []byte(sampleSnapshot), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	snap, err := NewFileSource(path).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snap.Aircraft) != 2 {
		t.Fatalf("aircraft = %d, want 2", len(snap.Aircraft))
	}
	if snap.Aircraft[0].TrimmedCallsign() != "DLH400" {
		t.Errorf("callsign = %q", snap.Aircraft[0].TrimmedCallsign())
	}
}

func TestFileSourceMissing(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.json")).Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFileSourceMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aircraft.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileSource(path).Fetch(context.Background()); err == nil {
		t.Fatal("expected error for malformed snapshot")
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(sampleSnapshot))
	}))
	defer srv.Close()

	snap, err := NewHTTPSource(srv.URL + "/data/aircraft.json").Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snap.Aircraft) != 2 {
		t.Errorf("aircraft = %d, want 2", len(snap.Aircraft))
	}
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewHTTPSource(srv.URL).Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
