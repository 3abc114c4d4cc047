package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/app"
)

type rpcRequest struct {
	JSONRPC    string          `json:"jsonrpc"`
	ID         json.RawMessage `json:"id"`
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params"`
	APIVersion *int            `json:"api_version,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

const maxRPCBodyBytes int64 = 1 << 20 // 1 MiB

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !s.authorizeRPC(w, r) {
		return
	}
	authToken := s.extractRPCToken(r)
	if !s.limiter.allow(rpcRateLimitKey(r, authToken), time.Now()) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	var req rpcRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: -32700, Message: "parse error"},
		})
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeRPCInvalidRequest(w, req.ID)
		return
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCInvalidRequest(w, req.ID)
		return
	}
	if rpcErr := validateRPCAPIVersion(req.APIVersion); rpcErr != nil {
		writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}

	caller, rpcErr := s.resolveCaller(r)
	if rpcErr != nil {
		s.recorder.RPCServed(req.Method, strconv.Itoa(rpcErr.Code))
		writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}

	idemKey := rpcIdempotencyKey(r.Header.Get(rpcIdempotencyHeader), authToken, caller)
	requestHash := rpcRequestHash(req)
	if idemKey != "" && mutatingRPCMethods[req.Method] {
		if cached, hit, conflict := s.idempotency.get(idemKey, requestHash, time.Now()); conflict {
			writeRPC(w, rpcResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &rpcError{Code: -32090, Message: "idempotency key was already used for a different request"},
			})
			return
		} else if hit {
			cached.ID = req.ID
			s.recorder.RPCServed(req.Method, "replay")
			writeRPC(w, cached)
			return
		}
	}

	reqID := fmt.Sprintf("rpc_%d", time.Now().UnixNano())
	started := time.Now()
	s.logger.Info("rpc request", "request_id", reqID, "method", req.Method, "caller", caller, "rpc_id", string(req.ID))

	result, dispatchErr := s.dispatchRPC(r.Context(), caller, req.Method, req.Params)
	if dispatchErr != nil {
		s.logger.Error("rpc failed", "request_id", reqID, "method", req.Method, "rpc_code", dispatchErr.Code, "latency_ms", time.Since(started).Milliseconds())
		s.recorder.RPCServed(req.Method, strconv.Itoa(dispatchErr.Code))
	} else {
		s.logger.Info("rpc response", "request_id", reqID, "method", req.Method, "latency_ms", time.Since(started).Milliseconds())
		s.recorder.RPCServed(req.Method, "ok")
	}
	resp := rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
		Error:   dispatchErr,
	}
	if idemKey != "" && mutatingRPCMethods[req.Method] {
		s.idempotency.set(idemKey, requestHash, resp, time.Now())
	}
	writeRPC(w, resp)
}

// resolveCaller maps the request credential to the caller account. A
// missing credential is the anonymous caller; role-gated operations
// then fail authorization downstream rather than here.
func (s *Server) resolveCaller(r *http.Request) (common.Address, *rpcError) {
	credential := extractCallerCredential(r)
	if credential == "" {
		return common.Address{}, nil
	}
	if s.verifier == nil {
		return common.Address{}, &rpcError{Code: -32008, Message: "caller credentials are not accepted by this server"}
	}
	claims, _, err := s.verifier.Verify(credential, s.revocations)
	if err != nil {
		return common.Address{}, mapCredentialRPCError(err)
	}
	return claims.Caller, nil
}

func extractCallerCredential(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-KEI-Credential"))
}

func (s *Server) dispatchRPC(ctx context.Context, caller common.Address, method string, rawParams json.RawMessage) (any, *rpcError) {
	// Static methods stay reachable before service wiring completes.
	if method == "health_check" {
		return map[string]string{"status": "ok"}, nil
	}
	if method == "rpc.version" {
		return rpcVersionInfo(), nil
	}
	if method == "rpc.capabilities" {
		return rpcCapabilities(), nil
	}
	if s.service == nil {
		return nil, &rpcError{Code: -32099, Message: "service is not initialized"}
	}
	if result, rpcErr, ok := s.dispatchTreasuryRPC(ctx, caller, method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchAdminRPC(caller, method, rawParams); ok {
		return result, rpcErr
	}
	return nil, &rpcError{Code: -32601, Message: "method not found"}
}

func rpcCapabilities() map[string]any {
	methods := []string{
		"health_check",
		"rpc.version",
		"rpc.capabilities",
		"treasury.balance_of",
		"treasury.reserves",
		"treasury.role_of",
		app.OpSync,
		app.OpWithdraw,
		app.OpRelinquish,
		app.OpSyncAndWithdraw,
		app.OpSkim,
		"treasury.status",
		"treasury.events",
		"treasury.verify_journal",
		"metrics.get",
		app.OpGrantRole,
		app.OpRevokeRole,
		app.OpPause,
		app.OpUnpause,
	}
	return map[string]any{
		"methods":            methods,
		"stream_path":        "/rpc/stream",
		"idempotency_header": rpcIdempotencyHeader,
	}
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCInvalidRequest(w http.ResponseWriter, id json.RawMessage) {
	writeRPC(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: -32600, Message: "invalid request"},
	})
}
