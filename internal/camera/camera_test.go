package camera

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Personaz1/SMARTHOUSE/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	raw := `[{"id":"cam_front","type":"camera","room":"entry","state_topic":"home/camera/cam_front/state"}]`
	r, err := registry.LoadBytes([]byte(raw))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	return r
}

func TestSnapshotURLReturnsConfiguredEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewHTTPSnapshotStore(testRegistry(t), map[string]string{"cam_front": srv.URL})
	url, err := store.SnapshotURL(context.Background(), "cam_front")
	if err != nil {
		t.Fatalf("SnapshotURL: %v", err)
	}
	if url != srv.URL {
		t.Errorf("got %q, want %q", url, srv.URL)
	}
}

func TestSnapshotURLUnknownDevice(t *testing.T) {
	store := NewHTTPSnapshotStore(testRegistry(t), map[string]string{"cam_front": "http://example.invalid"})
	if _, err := store.SnapshotURL(context.Background(), "cam_missing"); err == nil {
		t.Error("expected error for unknown device")
	}
}

func TestSnapshotURLNoEndpointConfigured(t *testing.T) {
	store := NewHTTPSnapshotStore(testRegistry(t), map[string]string{})
	if _, err := store.SnapshotURL(context.Background(), "cam_front"); err == nil {
		t.Error("expected error when no endpoint is configured")
	}
}

func TestSnapshotURLEndpointErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := NewHTTPSnapshotStore(testRegistry(t), map[string]string{"cam_front": srv.URL})
	if _, err := store.SnapshotURL(context.Background(), "cam_front"); err == nil {
		t.Error("expected error for non-2xx endpoint status")
	}
}
