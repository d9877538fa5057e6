// Package mcp is the JSON-RPC 2.0 gateway. It exposes the fixed tool catalog
// over a single HTTP endpoint and speaks enough of the MCP handshake for
// agent runtimes to connect with no custom glue.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"steward/internal/domain"
	"steward/internal/engine"
	"steward/internal/engine/auth"
	"steward/internal/repo"
)

// JSON-RPC 2.0 error codes.
const (
	codeParse          = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

const protocolVersion = "2024-11-05"

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Caller is the authenticated principal for one request. The actor is built
// once at the HTTP boundary; UserID is the membership subject used for every
// permission check.
type Caller struct {
	Actor  domain.Actor
	UserID string
}

type handlerFunc func(ctx context.Context, c Caller, args json.RawMessage) (any, error)

// Gateway dispatches JSON-RPC requests to the tool catalog. The handler map
// is built at construction and never mutated afterwards, so concurrent
// requests share it without locking.
type Gateway struct {
	Engine   engine.Engine
	Repo     repo.Repo
	handlers map[string]handlerFunc
	log      callLog
	logger   *slog.Logger
}

func NewGateway(eng engine.Engine, logger *slog.Logger) *Gateway {
	g := &Gateway{
		Engine: eng,
		Repo:   eng.Repo,
		log:    callLog{repo: eng.Repo, logger: logger},
		logger: logger,
	}
	g.handlers = g.buildHandlers()
	return g
}

// Handle processes one request body, single or batch, and returns the
// response body. A nil return means nothing must be written back: either the
// input was a lone notification or a batch of nothing but notifications.
// -32700 is reserved for bodies that are not JSON at all; valid JSON that is
// not a well formed request is -32600.
func (g *Gateway) Handle(ctx context.Context, c Caller, body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return marshalOne(errResponse(nil, codeParse, "parse error", nil))
	}
	if trimmed[0] != '[' {
		resp := g.handleItem(ctx, c, trimmed)
		if resp == nil {
			return nil
		}
		return marshalOne(*resp)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return marshalOne(errResponse(nil, codeParse, "parse error", nil))
	}
	if len(raw) == 0 {
		return marshalOne(errResponse(nil, codeInvalidRequest, "empty batch", nil))
	}
	responses := make([]rpcResponse, 0, len(raw))
	for _, item := range raw {
		if resp := g.handleItem(ctx, c, bytes.TrimSpace(item)); resp != nil {
			responses = append(responses, *resp)
		}
	}
	if len(responses) == 0 {
		return nil
	}
	data, _ := json.Marshal(responses)
	return data
}

// handleItem runs one request object. A non-object can never be a request and
// is always answered with invalid request; a malformed object is answered
// only when it carries an id, since without one the sender asked for nothing.
func (g *Gateway) handleItem(ctx context.Context, c Caller, item []byte) *rpcResponse {
	if len(item) == 0 || item[0] != '{' {
		resp := errResponse(nil, codeInvalidRequest, "invalid request", nil)
		return &resp
	}
	req, ok := parseRequest(item)
	if !ok || req.JSONRPC != "2.0" {
		if len(req.ID) == 0 || string(req.ID) == "null" {
			return nil
		}
		resp := errResponse(req.ID, codeInvalidRequest, "invalid request", nil)
		return &resp
	}
	return g.dispatch(ctx, c, req)
}

// parseRequest decodes a request envelope, tolerating any JSON type in the
// method field so a non-string method reports invalid request instead of a
// parse error.
func parseRequest(item []byte) (rpcRequest, bool) {
	var env struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id,omitempty"`
		Method  json.RawMessage `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}
	if err := json.Unmarshal(item, &env); err != nil {
		return rpcRequest{}, false
	}
	req := rpcRequest{JSONRPC: env.JSONRPC, ID: env.ID, Params: env.Params}
	if err := json.Unmarshal(env.Method, &req.Method); err != nil {
		return req, false
	}
	return req, true
}

// dispatch executes one request. Notifications (no id) run like any other
// call, get logged like any other call, and return nil: they are never
// answered, not even on error.
func (g *Gateway) dispatch(ctx context.Context, c Caller, req rpcRequest) *rpcResponse {
	started := time.Now()
	notification := len(req.ID) == 0 || string(req.ID) == "null"

	reply := func(resp rpcResponse) *rpcResponse {
		outcome := "ok"
		if resp.Error != nil {
			outcome = "error"
		}
		g.log.record(req.Method, g.toolName(req), c.Actor, started, outcome)
		if notification {
			return nil
		}
		return &resp
	}

	switch req.Method {
	case "initialize":
		return reply(okResponse(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]any{"name": "steward", "version": "0.1.0"},
		}))
	case "tools/list":
		return reply(okResponse(req.ID, map[string]any{"tools": toolDefinitions()}))
	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return reply(errResponse(req.ID, codeInvalidParams, "invalid params", nil))
		}
		h, ok := g.handlers[params.Name]
		if !ok {
			return reply(errResponse(req.ID, codeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name), nil))
		}
		result, err := h(ctx, c, params.Arguments)
		if err != nil {
			code, data := classify(err)
			return reply(errResponse(req.ID, code, err.Error(), data))
		}
		return reply(okResponse(req.ID, result))
	default:
		// every catalog tool doubles as a direct method, with the tool
		// arguments passed as params
		if h, ok := g.handlers[req.Method]; ok {
			result, err := h(ctx, c, req.Params)
			if err != nil {
				code, data := classify(err)
				return reply(errResponse(req.ID, code, err.Error(), data))
			}
			return reply(okResponse(req.ID, result))
		}
		return reply(errResponse(req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil))
	}
}

// classify maps domain errors to JSON-RPC codes. Validation and referential
// failures are invalid params with structured data; authorization failures
// surface as -32603 after the membership check, before any existence check,
// so callers learn nothing about orgs they cannot see.
func classify(err error) (int, any) {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		return codeInvalidParams, verr
	}
	var me auth.MembershipError
	if errors.As(err, &me) {
		return codeInternal, map[string]string{"reason": "forbidden"}
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return codeInternal, map[string]string{"reason": "forbidden"}
	}
	if errors.Is(err, repo.ErrNotFound) {
		return codeInvalidParams, &engine.ValidationError{Field: "id", Reason: "not found"}
	}
	return codeInternal, nil
}

func (g *Gateway) toolName(req rpcRequest) string {
	if req.Method == "tools/call" {
		var params struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(req.Params, &params)
		return params.Name
	}
	if _, ok := g.handlers[req.Method]; ok {
		return req.Method
	}
	return ""
}

func okResponse(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: normalizeID(id), Result: result}
}

func errResponse(id json.RawMessage, code int, msg string, data any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: normalizeID(id), Error: &rpcError{Code: code, Message: msg, Data: data}}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func marshalOne(resp rpcResponse) []byte {
	data, _ := json.Marshal(resp)
	return data
}
