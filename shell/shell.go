// Package shell implements a newline-delimited JSON request/response
// protocol over an input/output stream pair. It is the tool-dispatch surface
// for driving the evaluator from a parent process over stdin/stdout: each
// request line names an operation and carries its parameters, and each
// response line carries a result or a structured error.
package shell

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/petal-labs/pluraal"
)

// Request is a single operation submitted on stdin.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the reply to a Request, matched by ID.
type Response struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError describes a failed operation.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Supported operation names.
const (
	OpVersion       = "version"
	OpDecodeScope   = "decode_scope"
	OpEvaluate      = "evaluate"
	OpEvaluateScope = "evaluate_scope"
)

// Config configures a Runner.
type Config struct {
	Version string
	Events  pluraal.EventHandler // optional observer for evaluate_scope runs
	Logger  *slog.Logger
}

// Runner reads requests line by line and writes one response per request.
type Runner struct {
	version string
	events  pluraal.EventHandler
	logger  *slog.Logger

	mu  sync.Mutex // serializes response writes
	out io.Writer
}

// NewRunner creates a Runner writing responses to out.
func NewRunner(out io.Writer, cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		version: cfg.Version,
		events:  cfg.Events,
		logger:  logger,
		out:     out,
	}
}

// Run reads requests from in until EOF or context cancellation. Malformed
// lines produce an error response rather than terminating the loop.
func (r *Runner) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			r.respondError(Request{}, "bad_request", "invalid JSON request: "+err.Error())
			continue
		}
		r.dispatch(req)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading requests: %w", err)
	}
	return nil
}

func (r *Runner) dispatch(req Request) {
	r.logger.Debug("shell request", "op", req.Op, "id", req.ID)

	var (
		result any
		err    error
		code   string
	)
	switch req.Op {
	case OpVersion:
		result = map[string]string{"version": r.version}
	case OpDecodeScope:
		result, code, err = r.decodeScope(req.Params)
	case OpEvaluate:
		result, code, err = r.evaluate(req.Params)
	case OpEvaluateScope:
		result, code, err = r.evaluateScope(req.Params)
	default:
		code, err = "unknown_op", fmt.Errorf("unknown operation %q", req.Op)
	}

	if err != nil {
		r.respondError(req, code, err.Error())
		return
	}
	r.respond(req, result)
}

type decodeScopeParams struct {
	Scope json.RawMessage `json:"scope"`
}

type decodeScopeResult struct {
	Scope       json.RawMessage      `json:"scope"`
	Diagnostics []pluraal.Diagnostic `json:"diagnostics,omitempty"`
}

// decodeScope decodes a scope document, reports its diagnostics, and echoes
// the canonical encoding back.
func (r *Runner) decodeScope(params json.RawMessage) (any, string, error) {
	var p decodeScopeParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, "bad_params", err
	}
	if len(p.Scope) == 0 {
		return nil, "bad_params", errors.New("\"scope\" is required")
	}

	scope, err := pluraal.DecodeScope(p.Scope)
	if err != nil {
		return nil, "invalid_scope", err
	}
	canonical, err := pluraal.EncodeScope(scope)
	if err != nil {
		return nil, "invalid_scope", err
	}
	return decodeScopeResult{
		Scope:       canonical,
		Diagnostics: scope.Validate(),
	}, "", nil
}

type evaluateParams struct {
	Expr    json.RawMessage            `json:"expr"`
	Context map[string]json.RawMessage `json:"context,omitempty"`
}

// evaluate reduces a single expression against an optional context.
func (r *Runner) evaluate(params json.RawMessage) (any, string, error) {
	var p evaluateParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, "bad_params", err
	}
	if len(p.Expr) == 0 {
		return nil, "bad_params", errors.New("\"expr\" is required")
	}

	expr, err := pluraal.DecodeExpr(p.Expr)
	if err != nil {
		return nil, "invalid_expr", err
	}
	ctx, err := decodeContext(p.Context)
	if err != nil {
		return nil, "invalid_context", err
	}

	value, err := pluraal.Eval(ctx, expr)
	if err != nil {
		return nil, "evaluation_failed", err
	}
	encoded, err := pluraal.EncodeExpr(value)
	if err != nil {
		return nil, "encode_failed", err
	}
	return map[string]json.RawMessage{"value": encoded}, "", nil
}

type evaluateScopeParams struct {
	Scope  json.RawMessage            `json:"scope"`
	Inputs map[string]json.RawMessage `json:"inputs,omitempty"`
}

// evaluateScope runs a full scope evaluation and returns the projected
// outputs.
func (r *Runner) evaluateScope(params json.RawMessage) (any, string, error) {
	var p evaluateScopeParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, "bad_params", err
	}
	if len(p.Scope) == 0 {
		return nil, "bad_params", errors.New("\"scope\" is required")
	}

	scope, err := pluraal.DecodeScope(p.Scope)
	if err != nil {
		return nil, "invalid_scope", err
	}
	ctx, err := decodeContext(p.Inputs)
	if err != nil {
		return nil, "invalid_inputs", err
	}

	var outputs map[string]pluraal.Expr
	if r.events != nil {
		outputs, err = pluraal.EvaluateScopeObserved(ctx, scope, "", r.events)
	} else {
		outputs, err = pluraal.EvaluateScope(ctx, scope)
	}
	if err != nil {
		return nil, "evaluation_failed", err
	}

	encoded := make(map[string]json.RawMessage, len(outputs))
	for name, value := range outputs {
		data, err := pluraal.EncodeExpr(value)
		if err != nil {
			return nil, "encode_failed", fmt.Errorf("output %q: %w", name, err)
		}
		encoded[name] = data
	}
	return map[string]any{"outputs": encoded}, "", nil
}

func decodeContext(raw map[string]json.RawMessage) (pluraal.Context, error) {
	ctx := make(pluraal.Context, len(raw))
	for name, data := range raw {
		expr, err := pluraal.DecodeExpr(data)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", name, err)
		}
		ctx[name] = expr
	}
	return ctx, nil
}

func unmarshalParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return errors.New("params are required")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func (r *Runner) respond(req Request, result any) {
	encoded, err := json.Marshal(result)
	if err != nil {
		r.respondError(req, "encode_failed", err.Error())
		return
	}
	r.write(Response{ID: req.ID, Result: encoded})
}

func (r *Runner) respondError(req Request, code, message string) {
	r.write(Response{ID: req.ID, Error: &ResponseError{Code: code, Message: message}})
}

func (r *Runner) write(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		r.logger.Error("encoding shell response", "error", err)
		return
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.out.Write(data); err != nil {
		r.logger.Error("writing shell response", "error", err)
	}
}
