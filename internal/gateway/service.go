// Package gateway exposes the marketplace pipeline over gRPC with a JSON
// codec: Submit, FetchMetadata and a server stream of listings.
package gateway

import (
	"context"

	"google.golang.org/grpc"

	"github.com/dmitrijs2005/promptseal/internal/listing"
	"github.com/dmitrijs2005/promptseal/internal/submission"
)

const (
	ServiceName = "promptseal.v1.Marketplace"

	FullMethodSubmit        = "/" + ServiceName + "/Submit"
	FullMethodFetchMetadata = "/" + ServiceName + "/FetchMetadata"
	FullMethodListPrompts   = "/" + ServiceName + "/ListPrompts"
)

// SubmitRequest carries a seller form. Empty ids fall back to the daemon's
// configuration.
type SubmitRequest struct {
	Form         submission.Form `json:"form"`
	PolicyID     string          `json:"policyId,omitempty"`
	CapabilityID string          `json:"capabilityId,omitempty"`
	ExchangeRate float64         `json:"exchangeRate,omitempty"`
}

type SubmitResponse struct {
	AttemptID       string `json:"attemptId"`
	Identity        string `json:"identity"`
	EncryptedBlobID string `json:"encryptedBlobId"`
	MetadataBlobID  string `json:"metadataBlobId"`
	Digest          string `json:"digest"`
}

type FetchMetadataRequest struct {
	BlobID string `json:"blobId"`
}

type FetchMetadataResponse struct {
	Metadata listing.Metadata `json:"metadata"`
}

type ListPromptsRequest struct {
	MarketplaceID string `json:"marketplaceId,omitempty"`
}

// ListPromptsStream is the server side of ListPrompts.
type ListPromptsStream interface {
	Send(*listing.Summary) error
	Context() context.Context
}

// MarketplaceServer is implemented by *Server.
type MarketplaceServer interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)
	FetchMetadata(ctx context.Context, req *FetchMetadataRequest) (*FetchMetadataResponse, error)
	ListPrompts(req *ListPromptsRequest, stream ListPromptsStream) error
}

var Marketplace_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MarketplaceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "FetchMetadata", Handler: fetchMetadataHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ListPrompts", Handler: listPromptsHandler, ServerStreams: true},
	},
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MarketplaceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethodSubmit}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MarketplaceServer).Submit(ctx, req.(*SubmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func fetchMetadataHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FetchMetadataRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MarketplaceServer).FetchMetadata(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethodFetchMetadata}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MarketplaceServer).FetchMetadata(ctx, req.(*FetchMetadataRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listPromptsHandler(srv any, stream grpc.ServerStream) error {
	in := new(ListPromptsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MarketplaceServer).ListPrompts(in, &listPromptsStream{stream})
}

type listPromptsStream struct {
	grpc.ServerStream
}

func (s *listPromptsStream) Send(m *listing.Summary) error {
	return s.ServerStream.SendMsg(m)
}
