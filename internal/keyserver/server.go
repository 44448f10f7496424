// Package keyserver is the decryption service that releases key shares of
// encrypted prompts to approved requesters, and the HTTP client used to
// reach it.
package keyserver

import (
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/dmitrijs2005/promptseal/internal/common"
	"github.com/dmitrijs2005/promptseal/internal/logging"
	"github.com/dmitrijs2005/promptseal/internal/seal"
)

const maxRequestBody = 64 << 10

// ServiceInfo is returned by GET /v1/service.
type ServiceInfo struct {
	ObjectID  string `json:"objectId"`
	PublicKey string `json:"publicKey"`
}

// ShareObserver is told the outcome of every share request.
type ShareObserver interface {
	ObserveShare(err error)
}

type Server struct {
	objectID  string
	packageID string
	key       *ecdh.PrivateKey
	approver  Approver
	logger    logging.Logger
	observer  ShareObserver
	metrics   http.Handler
}

func NewServer(objectID, packageID string, key *ecdh.PrivateKey, approver Approver, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		objectID:  objectID,
		packageID: packageID,
		key:       key,
		approver:  approver,
		logger:    logger.With("module", "keyserver"),
	}
}

// Observe registers o for share outcomes and mounts metrics, when non-nil,
// at GET /metrics.
func (s *Server) Observe(o ShareObserver, metrics http.Handler) {
	s.observer = o
	s.metrics = metrics
}

// ParsePrivateKey decodes a hex or base64 X25519 private key.
func ParsePrivateKey(s string) (*ecdh.PrivateKey, error) {
	b, err := decodeHex(s)
	if err != nil {
		b, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errors.New("key server private key is neither hex nor base64")
		}
	}
	return seal.ParsePrivateKey(b)
}

func (s *Server) Info() ServiceInfo {
	return ServiceInfo{
		ObjectID:  s.objectID,
		PublicKey: base64.StdEncoding.EncodeToString(s.key.PublicKey().Bytes()),
	}
}

func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.GET("/v1/service", s.handleService)
	r.POST("/v1/fetch_key", s.handleFetchKey)
	if s.metrics != nil {
		r.Handler(http.MethodGet, "/metrics", s.metrics)
	}
	return s.logRequests(r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "status", sw.status, "duration", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleService(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.Info())
}

func (s *Server) handleFetchKey(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()

	var req seal.ShareRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	resp, err := s.FetchShare(ctx, &req)
	if s.observer != nil {
		s.observer.ObserveShare(err)
	}
	if err != nil {
		s.logger.Warn(ctx, "share refused", "identity", req.Identity, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// FetchShare runs the release checks and re-seals the share to the
// requester's key.
func (s *Server) FetchShare(ctx context.Context, req *seal.ShareRequest) (*seal.ShareResponse, error) {
	if s.packageID != "" && req.PackageID != s.packageID {
		return nil, errors.Join(common.ErrInvalidArgument, errors.New("unknown package"))
	}
	if req.Share.Server != s.objectID {
		return nil, errors.Join(common.ErrInvalidArgument, errors.New("share is not addressed to this server"))
	}

	requester, err := seal.VerifySession(req.Session, req.PackageID)
	if err != nil {
		return nil, errors.Join(common.ErrUnauthorized, err)
	}

	policy, err := seal.IdentityPolicy(req.Identity)
	if err != nil {
		return nil, err
	}

	if err := s.approver.Approve(ctx, Request{
		Requester: requester,
		PackageID: req.PackageID,
		PolicyID:  policy,
		Identity:  req.Identity,
	}); err != nil {
		return nil, err
	}

	v, err := seal.Open(s.key, req.Share.Sealed, seal.ShareAAD(req.PackageID, req.Identity, s.objectID))
	if err != nil {
		return nil, errors.Join(common.ErrInvalidArgument, err)
	}
	defer common.WipeByteArray(v)

	if _, err := seal.ScalarFromShare(v); err != nil {
		return nil, errors.Join(common.ErrInvalidArgument, errors.New("share does not decode"))
	}

	pub, err := seal.ParsePublicKey(req.RequesterKey)
	if err != nil {
		return nil, errors.Join(common.ErrInvalidArgument, errors.New("bad requester key"))
	}

	sealed, err := seal.SealTo(nil, pub, v, seal.TransferAAD(req.Identity, s.objectID, req.RequesterKey))
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "share released", "requester", requester, "policy", policy)
	return &seal.ShareResponse{Sealed: sealed}, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotApproved):
		return http.StatusForbidden
	case errors.Is(err, common.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
