// Package camera provides an HTTP-backed SnapshotStore for
// internal/tools' camera operations: it resolves a device ID to a
// snapshot URL by issuing a HEAD request against that camera's configured
// snapshot endpoint and, if it answers with a status below 400, returning
// that configured URL unchanged.
package camera

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Personaz1/SMARTHOUSE/internal/httpkit"
	"github.com/Personaz1/SMARTHOUSE/internal/registry"
)

// HTTPSnapshotStore fetches snapshot URLs from cameras over HTTP, keyed
// by the camera's registered device ID. Endpoint is looked up from a
// caller-supplied map rather than the device registry, since snapshot
// URLs are a deployment detail the device catalogue schema does not
// model.
type HTTPSnapshotStore struct {
	client    *http.Client
	endpoints map[string]string
	registry  *registry.Registry
}

// NewHTTPSnapshotStore builds a store that only answers for devices
// present in reg, using endpoints to map device ID to its snapshot URL.
// It does not check the device's type; internal/tools does that before
// calling the store.
func NewHTTPSnapshotStore(reg *registry.Registry, endpoints map[string]string) *HTTPSnapshotStore {
	return &HTTPSnapshotStore{
		client:    httpkit.NewClient(httpkit.WithTimeout(httpkit.DefaultResponseHeader)),
		endpoints: endpoints,
		registry:  reg,
	}
}

// SnapshotURL implements tools.SnapshotStore. It issues a HEAD request to
// confirm the camera's endpoint is reachable before handing the URL back,
// so a dead camera surfaces as an error rather than a URL the caller
// discovers is broken only when they try to load it.
func (s *HTTPSnapshotStore) SnapshotURL(ctx context.Context, deviceID string) (string, error) {
	if _, ok := s.registry.Get(deviceID); !ok {
		return "", fmt.Errorf("camera: unknown device %q", deviceID)
	}
	url, ok := s.endpoints[deviceID]
	if !ok {
		return "", fmt.Errorf("camera: no snapshot endpoint configured for %q", deviceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", fmt.Errorf("camera: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("camera: snapshot endpoint unreachable: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 0)

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("camera: snapshot endpoint returned status %d", resp.StatusCode)
	}
	return url, nil
}
