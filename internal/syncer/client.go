package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dvloznov/envelope-ledger/internal/domain"
)

// HTTPRemote talks to the sync server's push/pull endpoints.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRemote creates a remote client for the given base URL
// (e.g. "https://sync.example.com").
func NewHTTPRemote(baseURL string) *HTTPRemote {
	return &HTTPRemote{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type pushRequest struct {
	Events []domain.Event `json:"events"`
}

// Push implements Remote.
func (r *HTTPRemote) Push(ctx context.Context, events []domain.Event) error {
	body, err := json.Marshal(pushRequest{Events: events})
	if err != nil {
		return fmt.Errorf("push: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/sync/push", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push: remote returned %d: %s", resp.StatusCode, payload)
	}
	return nil
}

// Pull implements Remote.
func (r *HTTPRemote) Pull(ctx context.Context, since domain.Cursor, limit int) (*PullResponse, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("since_ts", since.Timestamp.Format(time.RFC3339Nano))
		params.Set("since_seq", strconv.FormatInt(since.Sequence, 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/sync/pull?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("pull: build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pull: remote returned %d: %s", resp.StatusCode, payload)
	}

	var page PullResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("pull: decode response: %w", err)
	}
	return &page, nil
}

// Ensure HTTPRemote implements the Remote interface.
var _ Remote = (*HTTPRemote)(nil)
