package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	eventbus "github.com/hanpama/legend/internal/eventbus"
	events "github.com/hanpama/legend/internal/events"
	executor "github.com/hanpama/legend/internal/executor"
	metrics "github.com/hanpama/legend/internal/metrics"
	plan "github.com/hanpama/legend/internal/plan"
	reqid "github.com/hanpama/legend/internal/reqid"
	result "github.com/hanpama/legend/internal/result"
	"go.uber.org/zap"
)

// Request headers read by the handler.
const (
	HeaderUser      = "X-Legend-User"
	HeaderRequestID = "X-Request-Id"
)

// Handler is an http.Handler that serves the plan execution API.
//
//	POST /api/execute  {"plan": {...}, "parameters": {...}}
//	GET  /healthz
//	GET  /metrics      when a metrics registry is configured
type Handler struct {
	exec *executor.Executor
	opt  Options
	mux  *http.ServeMux
	log  *zap.Logger
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON error responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// Decoder decodes submitted plans. Defaults to plan.NewDecoder().
	Decoder *plan.Decoder

	// Metrics is served on /metrics when set.
	Metrics *metrics.Registry

	Logger *zap.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option     { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                     { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option        { return func(o *Options) { o.MaxBodyBytes = n } }
func WithDecoder(d *plan.Decoder) Option     { return func(o *Options) { o.Decoder = d } }
func WithMetrics(m *metrics.Registry) Option { return func(o *Options) { o.Metrics = m } }
func WithLogger(l *zap.Logger) Option        { return func(o *Options) { o.Logger = l } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates an HTTP handler executing plans with exec.
func New(exec *executor.Executor, opts ...Option) *Handler {
	op := Options{Timeout: 30 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	if op.Decoder == nil {
		op.Decoder = plan.NewDecoder()
	}
	if op.Logger == nil {
		op.Logger = zap.NewNop()
	}
	h := &Handler{exec: exec, opt: op, mux: http.NewServeMux(), log: op.Logger.Named("server")}
	h.mux.HandleFunc("POST /api/execute", h.execute)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, false)
	})
	if op.Metrics != nil {
		h.mux.Handle("GET /metrics", op.Metrics.Handler())
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.NewContext(ctx, r.Header.Get(HeaderRequestID))
	w.Header().Set(HeaderRequestID, rid)
	user := r.Header.Get(HeaderUser)
	status := http.StatusOK
	var category metrics.Category
	var root string
	start := time.Now()
	eventbus.Publish(ctx, events.PlanRequestStart{Request: r, RequestID: rid, User: user})
	defer func() {
		eventbus.Publish(ctx, events.PlanRequestFinish{
			Request:   r,
			RequestID: rid,
			User:      user,
			Root:      root,
			Status:    status,
			Category:  string(category),
			Duration:  time.Since(start),
		})
	}()

	p, params, err := h.parseRequest(r)
	if err != nil {
		status = http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		category = metrics.CategoryUser
		writeJSON(w, status, errorResponse(err, category), h.opt.Pretty)
		return
	}

	if p.Root != nil {
		root = p.Root.NodeType()
	}
	var identity any
	if user != "" {
		identity = user
	}
	res, err := h.exec.ExecutePlan(ctx, p, params, identity)
	if err != nil {
		category = metrics.Categorize(err)
		status = statusOf(category)
		writeJSON(w, status, errorResponse(err, category), h.opt.Pretty)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := result.Serialize(w, res); err != nil {
		// Headers are gone; the truncated body is all the client gets.
		category = metrics.Categorize(err)
		h.log.Warn("serialize result", zap.String("request_id", rid), zap.String("category", string(category)), zap.Error(err))
	}
}

// ------------------ Request parsing ------------------

// ExecuteRequest is the body of POST /api/execute.
type ExecuteRequest struct {
	Plan       json.RawMessage `json:"plan"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

var errBodyTooLarge = errors.New("body too large")

func (h *Handler) parseRequest(r *http.Request) (*plan.SingleExecutionPlan, map[string]any, error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return nil, nil, errors.New("unsupported Content-Type")
	}
	reader := io.Reader(r.Body)
	if h.opt.MaxBodyBytes > 0 {
		reader = io.LimitReader(r.Body, h.opt.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, errors.New("failed to read body")
	}
	defer r.Body.Close()
	if h.opt.MaxBodyBytes > 0 && int64(len(body)) > h.opt.MaxBodyBytes {
		return nil, nil, errBodyTooLarge
	}

	var req ExecuteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, errors.New("invalid JSON")
	}
	if len(req.Plan) == 0 {
		return nil, nil, errors.New("missing 'plan'")
	}
	p, err := h.opt.Decoder.Plan(bytes.NewReader(req.Plan))
	if err != nil {
		return nil, nil, err
	}
	params := map[string]any{}
	if len(req.Parameters) > 0 && string(req.Parameters) != "null" {
		v, err := plan.DecodeJSON(req.Parameters)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid 'parameters': %w", err)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, nil, errors.New("'parameters' must be an object")
		}
		params = m
	}
	return p, params, nil
}

// ------------------ Response formatting ------------------

type errorBody struct {
	Message  string `json:"message"`
	Category string `json:"category"`
}

type errorResult struct {
	Error errorBody `json:"error"`
}

func errorResponse(err error, category metrics.Category) errorResult {
	return errorResult{Error: errorBody{Message: err.Error(), Category: string(category)}}
}

func statusOf(c metrics.Category) int {
	if c == metrics.CategoryUser {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
