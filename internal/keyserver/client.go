package keyserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/config"
	"github.com/dmitrijs2005/promptseal/internal/netx"
	"github.com/dmitrijs2005/promptseal/internal/seal"
)

// HTTPFetcher reaches key servers over HTTP. It implements seal.ShareFetcher.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) FetchShare(ctx context.Context, ks seal.KeyServer, req *seal.ShareRequest) (*seal.ShareResponse, error) {
	var resp seal.ShareResponse
	if err := netx.PostJSON(ctx, f.client, strings.TrimRight(ks.URL, "/")+"/v1/fetch_key", req, &resp); err != nil {
		return nil, fmt.Errorf("key server %s: %w", ks.ObjectID, err)
	}
	return &resp, nil
}

// Info fetches GET /v1/service from a key server.
func (f *HTTPFetcher) Info(ctx context.Context, url string) (*ServiceInfo, error) {
	var info ServiceInfo
	if err := netx.GetJSON(ctx, f.client, strings.TrimRight(url, "/")+"/v1/service", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Resolve turns configured key server references into seal.KeyServer
// values. A reference without a public key is looked up on the server, which
// must then report the configured object id.
func (f *HTTPFetcher) Resolve(ctx context.Context, refs []config.KeyServerRef) ([]seal.KeyServer, error) {
	if len(refs) == 0 {
		return nil, common.ErrKeyServerUnavailable
	}

	out := make([]seal.KeyServer, 0, len(refs))
	for _, ref := range refs {
		pk := ref.PublicKey
		if pk == "" {
			info, err := f.Info(ctx, ref.URL)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", common.ErrKeyServerUnavailable, ref.URL, err)
			}
			if info.ObjectID != ref.ObjectID {
				return nil, fmt.Errorf("%w: %s reports object %s, want %s", common.ErrKeyServerUnavailable, ref.URL, info.ObjectID, ref.ObjectID)
			}
			pk = info.PublicKey
		}

		raw, err := base64.StdEncoding.DecodeString(pk)
		if err != nil {
			return nil, fmt.Errorf("key server %s: public key: %w", ref.ObjectID, err)
		}
		pub, err := seal.ParsePublicKey(raw)
		if err != nil {
			return nil, fmt.Errorf("key server %s: public key: %w", ref.ObjectID, err)
		}

		out = append(out, seal.KeyServer{ObjectID: ref.ObjectID, URL: ref.URL, PublicKey: pub})
	}
	return out, nil
}
