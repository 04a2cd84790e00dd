package propagation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ryandielhenn/zephyrcoord/pkg/buffer"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
)

// HTTPTransport delivers work units to each subscriber's locator over
// plain HTTP, POSTing the encoded snapshot or delta to a well-known
// path on that server. It is the production Transport; tests use an
// in-memory fake instead.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps client (or a client with a sane default
// timeout if client is nil).
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPTransport{client: client}
}

type fullListWire struct {
	VersionNumber uint64              `json:"version_number"`
	Servers       []membership.Entry  `json:"servers"`
}

type incrementalWire struct {
	VersionNumber uint64              `json:"version_number"`
	Changes       []buffer.DeltaEntry `json:"changes"`
}

func (t *HTTPTransport) SendFull(ctx context.Context, wu WorkUnit) error {
	body, err := json.Marshal(fullListWire{
		VersionNumber: wu.Full.VersionNumber,
		Servers:       wu.Full.Servers,
	})
	if err != nil {
		return err
	}
	return t.post(ctx, wu.Locator+"/membership/full", body)
}

func (t *HTTPTransport) SendIncremental(ctx context.Context, wu WorkUnit) error {
	body, err := json.Marshal(incrementalWire{
		VersionNumber: wu.UpdateVersionTail,
		Changes:       wu.Incremental,
	})
	if err != nil {
		return err
	}
	return t.post(ctx, wu.Locator+"/membership/incremental", body)
}

func (t *HTTPTransport) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("propagation: %s returned %d", url, resp.StatusCode)
	}
	return nil
}
