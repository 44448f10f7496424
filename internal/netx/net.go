// Package netx wraps the small HTTP request/response dance shared by the
// Walrus, Sui and key server clients.
package netx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultBodyLimit caps response bodies read by Do.
const DefaultBodyLimit = 1 << 20

// ErrBodyTooLarge is returned by Do when the response body exceeds its limit.
var ErrBodyTooLarge = errors.New("response body too large")

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// OK reports a 200 status.
func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Do sends a request and reads the whole body, which must not exceed limit
// bytes. A non-200 status is not an error here; callers map it to their
// taxonomy.
func Do(ctx context.Context, client *http.Client, method, url, contentType string, body []byte, limit int64) (*Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if client == nil {
		client = http.DefaultClient
	}
	if limit <= 0 {
		limit = DefaultBodyLimit
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrBodyTooLarge, limit, url)
	}

	return &Response{StatusCode: resp.StatusCode, Status: resp.Status, Body: b}, nil
}

// PostJSON marshals in, posts it and decodes a 200 response into out.
// Any other status becomes an error carrying the body.
func PostJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := Do(ctx, client, http.MethodPost, url, "application/json", payload, DefaultBodyLimit)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("request failed: %s; body: %s", resp.Status, string(resp.Body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetJSON fetches url and decodes a 200 response into out.
func GetJSON(ctx context.Context, client *http.Client, url string, out any) error {
	resp, err := Do(ctx, client, http.MethodGet, url, "", nil, DefaultBodyLimit)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("request failed: %s; body: %s", resp.Status, string(resp.Body))
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
