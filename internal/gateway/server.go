package gateway

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/ledger"
	"github.com/dmitrijs2005/promptseal/internal/listing"
	"github.com/dmitrijs2005/promptseal/internal/logging"
	"github.com/dmitrijs2005/promptseal/internal/submission"
)

// Submitter is satisfied by *submission.Orchestrator.
type Submitter interface {
	Submit(ctx context.Context, form submission.Form, policyObjectID, capabilityObjectID string, signer ledger.Signer, exchangeRate float64) (*submission.Result, error)
}

// Catalog is satisfied by *listing.Reader.
type Catalog interface {
	ListAll(ctx context.Context, marketplaceID string) (*listing.Listings, error)
	Metadata(ctx context.Context, blobID string) (*listing.Metadata, error)
}

// CapabilityFinder looks up the seller's policy capability when a request
// does not name one. Satisfied by *sui.Client.
type CapabilityFinder interface {
	FindCapability(ctx context.Context, owner, packageID, module string) (string, error)
}

// RequestObserver is told about every finished call.
type RequestObserver interface {
	ObserveRequest(method, code string, elapsed time.Duration)
}

// Defaults fill in request fields left empty.
type Defaults struct {
	PackageID     string
	PolicyModule  string
	PolicyID      string
	CapabilityID  string
	MarketplaceID string
	ExchangeRate  float64
}

type Deps struct {
	Submitter Submitter
	Catalog   Catalog
	Signer    ledger.Signer
	Caps      CapabilityFinder
	Observer  RequestObserver
	Defaults  Defaults
	Token     string
}

type Server struct {
	address string
	logger  logging.Logger
	deps    Deps
}

func NewServer(address string, l logging.Logger, deps Deps) *Server {
	if l == nil {
		l = logging.Nop()
	}
	return &Server{
		address: address,
		logger:  l.With("module", "grpc_server"),
		deps:    deps,
	}
}

// GRPCServer builds a grpc.Server with the gateway registered.
func (s *Server) GRPCServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.tokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamLoggingInterceptor, s.streamTokenInterceptor),
	)
	srv.RegisterService(&Marketplace_ServiceDesc, s)
	return srv
}

func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.GRPCServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}

func (s *Server) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if s.deps.Submitter == nil || s.deps.Signer == nil {
		return nil, status.Error(codes.Unimplemented, "submissions are not enabled on this gateway")
	}

	d := s.deps.Defaults
	policy := firstNonEmpty(req.PolicyID, d.PolicyID)
	capID := firstNonEmpty(req.CapabilityID, d.CapabilityID)
	rate := req.ExchangeRate
	if rate == 0 {
		rate = d.ExchangeRate
	}

	if capID == "" && s.deps.Caps != nil {
		found, err := s.deps.Caps.FindCapability(ctx, s.deps.Signer.Address(), d.PackageID, d.PolicyModule)
		if err != nil {
			return nil, toStatus(err)
		}
		capID = found
	}

	res, err := s.deps.Submitter.Submit(ctx, req.Form, policy, capID, s.deps.Signer, rate)
	if err != nil {
		return nil, toStatus(err)
	}

	a := res.Attempt
	return &SubmitResponse{
		AttemptID:       a.ID,
		Identity:        a.Identity,
		EncryptedBlobID: a.EncryptedBlobID,
		MetadataBlobID:  a.MetadataBlobID,
		Digest:          res.Listing.Digest,
	}, nil
}

func (s *Server) FetchMetadata(ctx context.Context, req *FetchMetadataRequest) (*FetchMetadataResponse, error) {
	if req.BlobID == "" {
		return nil, status.Error(codes.InvalidArgument, "blob id is required")
	}
	m, err := s.deps.Catalog.Metadata(ctx, req.BlobID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &FetchMetadataResponse{Metadata: *m}, nil
}

func (s *Server) ListPrompts(req *ListPromptsRequest, stream ListPromptsStream) error {
	ctx := stream.Context()
	id := firstNonEmpty(req.MarketplaceID, s.deps.Defaults.MarketplaceID)
	if id == "" {
		return status.Error(codes.InvalidArgument, "marketplace id is required")
	}

	ls, err := s.deps.Catalog.ListAll(ctx, id)
	if err != nil {
		return toStatus(err)
	}
	for summary := range ls.All() {
		if err := stream.Send(&summary); err != nil {
			return err
		}
	}
	if err := ls.Err(); err != nil {
		return toStatus(err)
	}

	s.logger.Info(ctx, "listings streamed", "marketplace", id, "skipped", ls.Skipped())
	return nil
}

// toStatus maps pipeline errors to gRPC codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrInvalidArgument),
		errors.Is(err, common.ErrEmptyBlob), errors.Is(err, common.ErrInvalidThreshold):
		code = codes.InvalidArgument
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrStorageNotFound):
		code = codes.NotFound
	case errors.Is(err, common.ErrMissingCapability):
		code = codes.FailedPrecondition
	case errors.Is(err, common.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, common.ErrKeyServerUnavailable), errors.Is(err, common.ErrStorageWrite):
		code = codes.Unavailable
	case errors.Is(err, common.ErrLedger):
		code = codes.Aborted
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

func firstNonEmpty(xs ...string) string {
	for _, x := range xs {
		if x != "" {
			return x
		}
	}
	return ""
}
