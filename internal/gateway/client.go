package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/listing"
)

type Client struct {
	conn  *grpc.ClientConn
	token string
}

// NewClient dials the gateway at endpoint. extra is appended to the default
// dial options (plaintext transport and the JSON codec).
func NewClient(endpoint, token string, extra ...grpc.DialOption) (*Client, error) {
	c := &Client{token: token}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithUnaryInterceptor(c.tokenInterceptor),
		grpc.WithStreamInterceptor(c.streamTokenInterceptor),
	}, extra...)

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) withToken(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(authorizationHeader, "Bearer "+c.token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) tokenInterceptor(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	return invoker(c.withToken(ctx), method, req, reply, cc, opts...)
}

func (c *Client) streamTokenInterceptor(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return streamer(c.withToken(ctx), desc, cc, method, opts...)
}

func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	out := new(SubmitResponse)
	if err := c.conn.Invoke(ctx, FullMethodSubmit, req, out); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (c *Client) FetchMetadata(ctx context.Context, blobID string) (*listing.Metadata, error) {
	out := new(FetchMetadataResponse)
	if err := c.conn.Invoke(ctx, FullMethodFetchMetadata, &FetchMetadataRequest{BlobID: blobID}, out); err != nil {
		return nil, mapError(err)
	}
	return &out.Metadata, nil
}

// ListPrompts streams listings. Iteration stops at the first error, which
// is yielded with a zero summary.
func (c *Client) ListPrompts(ctx context.Context, marketplaceID string) iter.Seq2[listing.Summary, error] {
	return func(yield func(listing.Summary, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := c.conn.NewStream(ctx, &Marketplace_ServiceDesc.Streams[0], FullMethodListPrompts)
		if err != nil {
			yield(listing.Summary{}, mapError(err))
			return
		}
		if err := stream.SendMsg(&ListPromptsRequest{MarketplaceID: marketplaceID}); err != nil {
			yield(listing.Summary{}, mapError(err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(listing.Summary{}, mapError(err))
			return
		}

		for {
			var s listing.Summary
			err := stream.RecvMsg(&s)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(listing.Summary{}, mapError(err))
				return
			}
			if !yield(s, nil) {
				return
			}
		}
	}
}

// mapError turns gRPC statuses back into the pipeline's sentinel errors.
func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	var kind error
	switch st.Code() {
	case codes.InvalidArgument:
		kind = common.ErrInvalidArgument
	case codes.NotFound:
		kind = common.ErrNotFound
	case codes.FailedPrecondition:
		kind = common.ErrMissingCapability
	case codes.Unauthenticated:
		kind = common.ErrUnauthorized
	case codes.Aborted:
		kind = common.ErrLedger
	case codes.Canceled:
		kind = context.Canceled
	case codes.DeadlineExceeded:
		kind = context.DeadlineExceeded
	default:
		return err
	}
	return fmt.Errorf("%w: %s", kind, st.Message())
}
