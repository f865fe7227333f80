// Package rpc exposes the signing authority over JSON-RPC 2.0. Signing
// methods are gated by a static bearer token, forgeAdmin_* methods by a JWT
// carrying the forge.admin scope, and responses to keyed requests are cached
// for idempotent retries.
package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"mintforge/authority"
	"mintforge/gateway/middleware"
	"mintforge/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError          = -32700
	codeInvalidRequest      = -32600
	codeMethodNotFound      = -32601
	codeInvalidParams       = -32602
	codeUnauthorized        = -32001
	codeServerError         = -32000
	codeRateLimited         = -32020
	codeDuplicateInstance   = -32021
	codeIdempotencyConflict = -32022
)

// Server hosts the forge_* and forgeAdmin_* JSON-RPC methods.
type Server struct {
	auth        *authority.Authority
	authToken   string
	adminAuth   *middleware.Authenticator
	idempotency *IdempotencyStore
	hub         *EventHub
	logger      *slog.Logger
	metrics     *observability.ForgeMetrics
	nowFn       func() time.Time

	// keyLocks serialises requests sharing an Idempotency-Key so concurrent
	// retries cannot both miss the cache and sign twice.
	keyLocks [idempotencyLockStripes]sync.Mutex
}

const idempotencyLockStripes = 64

func (s *Server) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.keyLocks[h.Sum32()%idempotencyLockStripes]
}

// ServerConfig carries the optional collaborators of a Server.
type ServerConfig struct {
	// AuthToken is the static bearer token required on signing methods.
	// Empty means signing requests are always rejected (fail closed).
	AuthToken string
	// AdminAuth validates forgeAdmin_* tokens. Nil disables the admin
	// surface entirely.
	AdminAuth *middleware.Authenticator
	// Idempotency caches responses for requests carrying Idempotency-Key.
	Idempotency *IdempotencyStore
	// Hub streams authority events to WebSocket subscribers.
	Hub    *EventHub
	Logger *slog.Logger
}

// NewServer constructs the RPC server around a signing authority.
func NewServer(auth *authority.Authority, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		auth:        auth,
		authToken:   strings.TrimSpace(cfg.AuthToken),
		adminAuth:   cfg.AdminAuth,
		idempotency: cfg.Idempotency,
		hub:         cfg.Hub,
		logger:      logger,
		metrics:     observability.Forge(),
		nowFn:       time.Now,
	}
}

// RPCRequest is the JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
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

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	started := s.nowFn()
	status, result, rpcErr := s.execute(r, req, body)
	outcome := "ok"
	if rpcErr != nil {
		outcome = "error"
	}
	s.metrics.ObserveRequest(req.Method, outcome, s.nowFn().Sub(started))

	if rpcErr != nil {
		writeError(w, status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// execute authenticates the request, consults the idempotency cache for keyed
// signing calls, and dispatches to the method handler.
func (s *Server) execute(r *http.Request, req *RPCRequest, body []byte) (int, interface{}, *RPCError) {
	signing := isSigningMethod(req.Method)
	if signing {
		if authErr := s.requireAuth(r); authErr != nil {
			return http.StatusUnauthorized, nil, authErr
		}
	}
	if strings.HasPrefix(req.Method, "forgeAdmin_") {
		if authErr := s.requireAdmin(r); authErr != nil {
			return http.StatusUnauthorized, nil, authErr
		}
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if signing && key != "" && s.idempotency != nil {
		// Hold the key's stripe across lookup, dispatch and store. Without
		// it two in-flight requests with the same key can both miss the
		// cache and consume two nonces.
		lock := s.keyLock(key)
		lock.Lock()
		defer lock.Unlock()

		payloadHash := hashPayload(req.Method, body)
		cached, found, err := s.idempotency.Lookup(key)
		if err != nil {
			s.logger.Error("idempotency lookup failed", "error", err)
			return http.StatusInternalServerError, nil, &RPCError{Code: codeServerError, Message: "idempotency store unavailable"}
		}
		if found {
			if cached.PayloadHash != payloadHash {
				return http.StatusConflict, nil, &RPCError{Code: codeIdempotencyConflict, Message: "idempotency key reused with a different payload"}
			}
			var replay json.RawMessage = []byte(cached.Response)
			return http.StatusOK, replay, nil
		}

		status, result, rpcErr := s.dispatch(req)
		if rpcErr != nil {
			return status, nil, rpcErr
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			return http.StatusInternalServerError, nil, &RPCError{Code: codeServerError, Message: "encode result"}
		}
		if err := s.idempotency.Store(key, payloadHash, string(encoded)); err != nil {
			s.logger.Error("idempotency store failed", "error", err)
		}
		return status, result, nil
	}

	return s.dispatch(req)
}

func (s *Server) dispatch(req *RPCRequest) (int, interface{}, *RPCError) {
	switch req.Method {
	case "forge_signGoldClaim":
		return s.handleSignGoldClaim(req)
	case "forge_signItemMint":
		return s.handleSignItemMint(req)
	case "forge_calculateInstanceId":
		return s.handleCalculateInstanceID(req)
	case "forge_getNonce":
		return s.handleGetNonce(req)
	case "forge_isInstanceMinted":
		return s.handleIsInstanceMinted(req)
	case "forge_getAddress":
		return s.handleGetAddress(req)
	case "forgeAdmin_resetNonce":
		return s.handleResetNonce(req)
	case "forgeAdmin_clearMintedInstance":
		return s.handleClearMintedInstance(req)
	case "forgeAdmin_state":
		return s.handleState(req)
	case "forgeAdmin_loadState":
		return s.handleLoadState(req)
	default:
		return http.StatusNotFound, nil, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

func isSigningMethod(method string) bool {
	switch method {
	case "forge_signGoldClaim", "forge_signItemMint":
		return true
	}
	return false
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) requireAdmin(r *http.Request) *RPCError {
	if s.adminAuth == nil {
		return &RPCError{Code: codeUnauthorized, Message: "admin surface not configured"}
	}
	if _, err := s.adminAuth.Authorize(r, middleware.ScopeAdmin); err != nil {
		return &RPCError{Code: codeUnauthorized, Message: err.Error()}
	}
	return nil
}

// errorFor maps authority failures to JSON-RPC status and error objects.
func (s *Server) errorFor(method string, err error) (int, *RPCError) {
	var rateLimited *authority.RateLimitedError
	switch {
	case errors.As(err, &rateLimited):
		kind := "claim"
		if errors.Is(err, authority.ErrMintRateLimited) {
			kind = "mint"
		}
		s.metrics.RecordRateLimited(kind)
		data := map[string]interface{}{"retryAfterMs": rateLimited.RetryAfter.Milliseconds()}
		return http.StatusTooManyRequests, &RPCError{Code: codeRateLimited, Message: err.Error(), Data: data}
	case errors.Is(err, authority.ErrDuplicateInstance):
		s.metrics.RecordReplayRejected()
		s.logger.Warn("replay attempt rejected", "method", method)
		return http.StatusConflict, &RPCError{Code: codeDuplicateInstance, Message: err.Error()}
	case errors.Is(err, authority.ErrInvalidAddress),
		errors.Is(err, authority.ErrInvalidAmount),
		errors.Is(err, authority.ErrInvalidItem),
		errors.Is(err, authority.ErrInvalidInstance):
		return http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	default:
		s.logger.Error("rpc handler failed", "method", method, "error", err)
		return http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: "internal error"}
	}
}
