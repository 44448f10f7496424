// Package walrus is a blobstore.Store backed by a Walrus publisher (writes)
// and aggregator (reads) over HTTP.
package walrus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/logging"
	"github.com/dmitrijs2005/promptseal/internal/netx"
	"github.com/tidwall/gjson"
)

// DefaultMaxBlobSize caps the bytes read from the aggregator.
const DefaultMaxBlobSize = 64 << 20

// blobIDPaths lists the response shapes the publisher may return, in the
// order they are tried.
var blobIDPaths = []string{
	"newlyCreated.blobObject.blobId",
	"alreadyCertified.blobId",
	"blobId",
}

type Client struct {
	publisherURL  string
	aggregatorURL string
	httpClient    *http.Client
	logger        logging.Logger
	maxBlobSize   int64
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMaxBlobSize(n int64) Option {
	return func(c *Client) { c.maxBlobSize = n }
}

func New(publisherURL, aggregatorURL string, opts ...Option) *Client {
	c := &Client{
		publisherURL:  strings.TrimRight(publisherURL, "/"),
		aggregatorURL: strings.TrimRight(aggregatorURL, "/"),
		httpClient:    http.DefaultClient,
		logger:        logging.Nop(),
		maxBlobSize:   DefaultMaxBlobSize,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("module", "walrus")
	return c
}

// Store uploads data with PUT {publisher}/v1/blobs?epochs=N and returns the
// blob id assigned by the publisher.
func (c *Client) Store(ctx context.Context, data []byte, epochs int) (string, error) {
	if len(data) == 0 {
		return "", common.ErrEmptyBlob
	}
	if epochs < 1 {
		return "", fmt.Errorf("%w: epochs must be >= 1, got %d", common.ErrInvalidArgument, epochs)
	}

	u := c.publisherURL + "/v1/blobs?epochs=" + strconv.Itoa(epochs)

	resp, err := netx.Do(ctx, c.httpClient, http.MethodPut, u, "application/octet-stream", data, netx.DefaultBodyLimit)
	if err != nil {
		return "", &common.StorageError{Kind: common.ErrStorageWrite, Cause: err}
	}
	if !resp.OK() {
		return "", &common.StorageError{Kind: common.ErrStorageWrite, StatusCode: resp.StatusCode, Body: truncate(resp.Body)}
	}

	id, ok := ExtractBlobID(resp.Body)
	if !ok {
		return "", &common.StorageError{Kind: common.ErrStorageResponse, StatusCode: resp.StatusCode, Body: truncate(resp.Body)}
	}

	c.logger.Debug(ctx, "blob stored", "blob_id", id, "bytes", len(data), "epochs", epochs)
	return id, nil
}

// Fetch reads a blob with GET {aggregator}/v1/blobs/{id}.
func (c *Client) Fetch(ctx context.Context, blobID string) ([]byte, error) {
	if blobID == "" {
		return nil, fmt.Errorf("%w: empty blob id", common.ErrInvalidArgument)
	}

	u := c.aggregatorURL + "/v1/blobs/" + url.PathEscape(blobID)

	resp, err := netx.Do(ctx, c.httpClient, http.MethodGet, u, "", nil, c.maxBlobSize)
	if err != nil {
		kind := common.ErrStorageNotFound
		if errors.Is(err, netx.ErrBodyTooLarge) {
			kind = common.ErrStorageResponse
		}
		return nil, &common.StorageError{Kind: kind, BlobID: blobID, Cause: err}
	}
	if !resp.OK() {
		return nil, &common.StorageError{Kind: common.ErrStorageNotFound, BlobID: blobID, StatusCode: resp.StatusCode}
	}

	return resp.Body, nil
}

// ExtractBlobID pulls the blob id out of a publisher response body.
func ExtractBlobID(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	for _, p := range blobIDPaths {
		if r := gjson.GetBytes(body, p); r.Type == gjson.String && r.Str != "" {
			return r.Str, true
		}
	}
	return "", false
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
