package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skillchain/core/events"
	"skillchain/native/bank"
	"skillchain/native/escrow"
	"skillchain/observability"
)

const (
	jsonRPCVersion        = "2.0"
	maxRequestBytes       = 1 << 20 // 1 MiB
	rateLimitWindow       = time.Minute
	maxMutationsPerWindow = 60

	// AuthTokenEnv names the environment variable carrying the bearer token
	// required for mutating methods. An empty token disables authentication
	// (local development only).
	AuthTokenEnv = "SKILLCHAIN_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server exposes the escrow ledger over JSON-RPC 2.0, along with a websocket
// event stream and prometheus metrics.
type Server struct {
	ledger *escrow.Ledger
	vault  *bank.Vault
	hub    *events.Hub
	logger *slog.Logger

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
	nowFn        func() time.Time
}

// NewServer wires the RPC surface. The bearer token is read from
// SKILLCHAIN_RPC_TOKEN.
func NewServer(ledger *escrow.Ledger, vault *bank.Vault, hub *events.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:       ledger,
		vault:        vault,
		hub:          hub,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    strings.TrimSpace(os.Getenv(AuthTokenEnv)),
		nowFn:        time.Now,
	}
}

// Handler returns the HTTP handler serving the RPC endpoint, the websocket
// stream, and the metrics endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/escrow", s.handleEscrowWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start blocks serving HTTP on the supplied address.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = "request body too large"
		}
		writeError(w, status, nil, codeInvalidRequest, message, nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", nil)
		return
	}

	method := strings.TrimSpace(req.Method)
	if s.isMutating(method) {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if !s.allowMutation(r) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
	}

	start := time.Now()
	handled, handlerErr := s.dispatch(w, r, &req, method)
	if handled {
		observability.Escrow().Observe(method, time.Since(start), handlerErr)
		if handlerErr == nil {
			switch method {
			case "escrow_dispute":
				observability.Escrow().DisputeOpened()
			case "escrow_resolve":
				observability.Escrow().DisputeClosed()
			}
		}
		return
	}
	writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", method)
}

// dispatch routes the request to its handler. The returned error is the
// handler outcome for metrics; the handler has already written the response.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest, method string) (bool, error) {
	switch method {
	case "escrow_create":
		return true, s.handleEscrowCreate(w, req)
	case "escrow_fund":
		return true, s.handleEscrowFund(w, req)
	case "escrow_release":
		return true, s.handleEscrowRelease(w, req)
	case "escrow_refund":
		return true, s.handleEscrowRefund(w, req)
	case "escrow_dispute":
		return true, s.handleEscrowDispute(w, req)
	case "escrow_resolve":
		return true, s.handleEscrowResolve(w, req)
	case "escrow_get":
		return true, s.handleEscrowGet(w, req)
	case "escrow_listByProject":
		return true, s.handleEscrowListByProject(w, req)
	case "escrow_listByClient":
		return true, s.handleEscrowListByClient(w, req)
	case "escrow_listByFreelancer":
		return true, s.handleEscrowListByFreelancer(w, req)
	case "escrow_setFeeRate":
		return true, s.handleEscrowSetFeeRate(w, req)
	case "escrow_setFeeRecipient":
		return true, s.handleEscrowSetFeeRecipient(w, req)
	case "escrow_feePolicy":
		return true, s.handleEscrowFeePolicy(w, req)
	case "bank_balance":
		return true, s.handleBankBalance(w, req)
	default:
		return false, nil
	}
}

func (s *Server) isMutating(method string) bool {
	switch method {
	case "escrow_create", "escrow_fund", "escrow_release", "escrow_refund",
		"escrow_dispute", "escrow_resolve", "escrow_setFeeRate", "escrow_setFeeRecipient":
		return true
	default:
		return false
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "malformed authorization header"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

func (s *Server) allowMutation(r *http.Request) bool {
	client := clientIP(r)
	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rateLimiters[client]
	if !ok || now.Sub(entry.windowStart) >= rateLimitWindow {
		s.rateLimiters[client] = &rateLimiter{count: 1, windowStart: now}
		return true
	}
	if entry.count >= maxMutationsPerWindow {
		return false
	}
	entry.count++
	return true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
