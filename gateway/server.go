package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skillchain/observability"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerCorrelationID  = "X-Correlation-ID"
	maxRequestBody       = 1 << 20 // 1 MiB

	scopeEscrowRead  = "escrow:read"
	scopeEscrowWrite = "escrow:write"
	scopeEscrowAdmin = "escrow:admin"

	nodeCallTimeout = 15 * time.Second
)

// JSON-RPC error codes surfaced by the node for ledger failures.
const (
	nodeCodeInvalidParams = -32021
	nodeCodeNotFound      = -32022
	nodeCodeForbidden     = -32023
	nodeCodeConflict      = -32024
)

// Server is the authenticated REST front-end for escrow interactions. It
// forwards requests to the node RPC, caches mutating responses under
// idempotency keys, and records an audit trail.
type Server struct {
	auth   *Authenticator
	limits *RateLimiter
	node   NodeClient
	store  *SQLiteStore
	logger *slog.Logger
	nowFn  func() time.Time
}

func NewServer(auth *Authenticator, limits *RateLimiter, node NodeClient, store *SQLiteStore, logger *slog.Logger) *Server {
	if auth == nil {
		panic("authenticator required")
	}
	if node == nil {
		panic("node client required")
	}
	if store == nil {
		panic("sqlite store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		auth:   auth,
		limits: limits,
		node:   node,
		store:  store,
		logger: logger,
		nowFn:  time.Now,
	}
}

// Router assembles the REST routes with rate limiting, authentication, and
// request observability applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.correlate)
	r.Use(s.observe)
	if s.limits != nil {
		r.Use(s.limits.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			read.Use(s.auth.Middleware(scopeEscrowRead))
			read.Get("/escrows", s.handleList)
			read.Get("/escrows/{id}", s.handleGet)
			read.Get("/fees", s.handleFeePolicy)
			read.Get("/balances/{address}", s.handleBalance)
		})
		v1.Group(func(write chi.Router) {
			write.Use(s.auth.Middleware(scopeEscrowWrite))
			write.Post("/escrows", s.handleCreate)
			write.Post("/escrows/{id}/fund", s.handleFund)
			write.Post("/escrows/{id}/release", s.handleRelease)
			write.Post("/escrows/{id}/refund", s.handleRefund)
			write.Post("/escrows/{id}/dispute", s.handleDispute)
			write.Post("/escrows/{id}/resolve", s.handleResolve)
		})
		v1.Group(func(admin chi.Router) {
			admin.Use(s.auth.Middleware(scopeEscrowAdmin))
			admin.Put("/fees/rate", s.handleSetFeeRate)
			admin.Put("/fees/recipient", s.handleSetFeeRecipient)
		})
	})

	return r
}

func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerCorrelationID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerCorrelationID, id)
		ctx := context.WithValue(r.Context(), contextKey("gateway.correlation"), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		duration := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		observability.Gateway().Observe(route, r.Method, rec.status, duration)
		s.logger.Info("request completed",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
			"correlation_id", correlationID(r.Context()),
		)
	})
}

func correlationID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey("gateway.correlation")).(string); ok {
		return id
	}
	return ""
}

func subjectFrom(ctx context.Context) string {
	if sub, ok := ctx.Value(ContextKeySubject).(string); ok {
		return sub
	}
	return ""
}

type fundRequest struct {
	Actor  string `json:"actor"`
	Amount string `json:"amount"`
}

type actorRequest struct {
	Actor string `json:"actor"`
}

type disputeRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Actor              string `json:"actor"`
	ClientShareBps     uint32 `json:"clientShareBps"`
	FreelancerShareBps uint32 `json:"freelancerShareBps"`
}

type feeRateRequest struct {
	Actor      string `json:"actor"`
	FeeRateBps uint32 `json:"feeRateBps"`
}

type feeRecipientRequest struct {
	Actor     string `json:"actor"`
	Recipient string `json:"recipient"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	var req EscrowCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if err := validateCreate(req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	s.idempotent(w, r, body, func(ctx context.Context) (int, []byte, error) {
		id, err := s.node.EscrowCreate(ctx, req)
		if err != nil {
			return 0, nil, err
		}
		payload, _ := json.Marshal(map[string]interface{}{"escrowId": id})
		return http.StatusCreated, payload, nil
	})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req fundRequest
	body, ok := s.decodeBody(w, r, &req)
	if !ok {
		return
	}
	s.forwardMutation(w, r, body, func(ctx context.Context) error {
		return s.node.EscrowFund(ctx, id, req.Actor, req.Amount)
	})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req actorRequest
	body, ok := s.decodeBody(w, r, &req)
	if !ok {
		return
	}
	s.forwardMutation(w, r, body, func(ctx context.Context) error {
		return s.node.EscrowRelease(ctx, id, req.Actor)
	})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req actorRequest
	body, ok := s.decodeBody(w, r, &req)
	if !ok {
		return
	}
	s.forwardMutation(w, r, body, func(ctx context.Context) error {
		return s.node.EscrowRefund(ctx, id, req.Actor)
	})
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req disputeRequest
	body, ok := s.decodeBody(w, r, &req)
	if !ok {
		return
	}
	s.forwardMutation(w, r, body, func(ctx context.Context) error {
		return s.node.EscrowDispute(ctx, id, req.Actor, req.Reason)
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	body, ok := s.decodeBody(w, r, &req)
	if !ok {
		return
	}
	s.forwardMutation(w, r, body, func(ctx context.Context) error {
		return s.node.EscrowResolve(ctx, id, req.Actor, req.ClientShareBps, req.FreelancerShareBps)
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	esc, err := s.node.EscrowGet(ctx, id)
	if err != nil {
		s.writeNodeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, esc)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()

	query := r.URL.Query()
	var (
		escrows []EscrowView
		err     error
	)
	switch {
	case strings.TrimSpace(query.Get("projectId")) != "":
		escrows, err = s.node.EscrowListByProject(ctx, strings.TrimSpace(query.Get("projectId")))
	case strings.TrimSpace(query.Get("client")) != "":
		escrows, err = s.node.EscrowListByClient(ctx, strings.TrimSpace(query.Get("client")))
	case strings.TrimSpace(query.Get("freelancer")) != "":
		escrows, err = s.node.EscrowListByFreelancer(ctx, strings.TrimSpace(query.Get("freelancer")))
	default:
		s.writeError(w, r, http.StatusBadRequest, errors.New("one of projectId, client, or freelancer query parameters is required"))
		return
	}
	if err != nil {
		s.writeNodeError(w, r, err)
		return
	}
	if escrows == nil {
		escrows = []EscrowView{}
	}
	s.writeJSON(w, r, http.StatusOK, escrows)
}

func (s *Server) handleFeePolicy(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	policy, err := s.node.FeePolicy(ctx)
	if err != nil {
		s.writeNodeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, policy)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if address == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("address required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	balance, err := s.node.BankBalance(ctx, address)
	if err != nil {
		s.writeNodeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, balance)
}

func (s *Server) handleSetFeeRate(w http.ResponseWriter, r *http.Request) {
	var req feeRateRequest
	body, ok := s.decodeBody(w, r, &req)
	if !ok {
		return
	}
	s.forwardMutation(w, r, body, func(ctx context.Context) error {
		return s.node.SetFeeRate(ctx, req.Actor, req.FeeRateBps)
	})
}

func (s *Server) handleSetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	var req feeRecipientRequest
	body, ok := s.decodeBody(w, r, &req)
	if !ok {
		return
	}
	s.forwardMutation(w, r, body, func(ctx context.Context) error {
		return s.node.SetFeeRecipient(ctx, req.Actor, req.Recipient)
	})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid escrow id %q", raw))
		return 0, false
	}
	return id, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) ([]byte, bool) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return nil, false
	}
	if err := json.Unmarshal(body, out); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return nil, false
	}
	return body, true
}

func (s *Server) forwardMutation(w http.ResponseWriter, r *http.Request, body []byte, fn func(context.Context) error) {
	s.idempotent(w, r, body, func(ctx context.Context) (int, []byte, error) {
		if err := fn(ctx); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, []byte(`{"status":"ok"}`), nil
	})
}

// idempotent runs fn at most once per (subject, key, request) tuple and
// replays the stored response on retries. Every mutating route passes through
// here, so a missing Idempotency-Key header rejects the request. Node failures
// are not cached; the caller may retry them under the same key.
func (s *Server) idempotent(w http.ResponseWriter, r *http.Request, body []byte, fn func(context.Context) (int, []byte, error)) {
	subject := subjectFrom(r.Context())
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("missing Idempotency-Key header"))
		return
	}
	requestHash := hashRequest(r.Method, r.URL.Path, body)
	cached, cacheErr := s.store.LookupIdempotency(r.Context(), subject, key, requestHash)
	if cacheErr != nil {
		status := http.StatusInternalServerError
		if errors.Is(cacheErr, ErrIdempotencyMismatch) {
			status = http.StatusConflict
		}
		s.writeError(w, r, status, cacheErr)
		return
	}
	if cached != nil {
		s.replay(w, r, subject, body, cached)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	status, payload, err := fn(ctx)
	if err != nil {
		s.writeNodeError(w, r, err)
		return
	}
	if err := s.store.SaveIdempotency(r.Context(), subject, key, requestHash, status, payload); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, r, subject, body, status, payload)
}

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func (s *Server) replay(w http.ResponseWriter, r *http.Request, subject string, requestBody []byte, cached *StoredResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
	s.audit(r, subject, requestBody, cached.Status, cached.Body)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, subject string, requestBody []byte, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
	s.audit(r, subject, requestBody, status, payload)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, value interface{}) {
	payload, err := json.Marshal(value)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
	s.audit(r, subjectFrom(r.Context()), nil, status, payload)
}

func (s *Server) writeNodeError(w http.ResponseWriter, r *http.Request, err error) {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		status := http.StatusBadGateway
		switch nodeErr.Code {
		case nodeCodeInvalidParams:
			status = http.StatusBadRequest
		case nodeCodeNotFound:
			status = http.StatusNotFound
		case nodeCodeForbidden:
			status = http.StatusForbidden
		case nodeCodeConflict:
			status = http.StatusConflict
		}
		message := nodeErr.Data
		if message == "" {
			message = nodeErr.Message
		}
		s.writeError(w, r, status, errors.New(message))
		return
	}
	s.writeError(w, r, http.StatusBadGateway, err)
}

func (s *Server) audit(r *http.Request, subject string, requestBody []byte, status int, responseBody []byte) {
	entry := AuditEntry{
		CorrelationID:  correlationID(r.Context()),
		Subject:        subject,
		Method:         r.Method,
		Path:           r.URL.Path,
		RequestBody:    append([]byte(nil), requestBody...),
		ResponseBody:   append([]byte(nil), responseBody...),
		ResponseStatus: status,
		Timestamp:      s.nowFn().UTC(),
	}
	if err := s.store.InsertAuditLog(r.Context(), entry); err != nil {
		s.logger.Error("audit log insert failed", "error", err)
	}
}

func validateCreate(req EscrowCreateRequest) error {
	if strings.TrimSpace(req.ProjectID) == "" {
		return errors.New("projectId is required")
	}
	if strings.TrimSpace(req.Client) == "" {
		return errors.New("client is required")
	}
	if strings.TrimSpace(req.Freelancer) == "" {
		return errors.New("freelancer is required")
	}
	if strings.TrimSpace(req.Amount) == "" {
		return errors.New("amount is required")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return errors.New("actor is required")
	}
	return nil
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return fmt.Sprintf("%x", sum[:])
}
