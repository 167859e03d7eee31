// Package server serves an executable schema over HTTP following the
// GraphQL-over-HTTP conventions: GET with query parameters, POST with a JSON
// body or a JSON array of requests.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc/metadata"

	eventbus "github.com/austinabell/graphql-ipld/internal/eventbus"
	events "github.com/austinabell/graphql-ipld/internal/events"
	executor "github.com/austinabell/graphql-ipld/internal/executor"
	language "github.com/austinabell/graphql-ipld/internal/language"
	reqid "github.com/austinabell/graphql-ipld/internal/reqid"
	schema "github.com/austinabell/graphql-ipld/internal/schema"
)

// MetadataRequestID is the outgoing gRPC metadata key carrying the request id.
const MetadataRequestID = "x-request-id"

// Handler is an http.Handler that serves a GraphQL endpoint.
type Handler struct {
	exec   *executor.Executor
	schema *schema.Schema
	opt    Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses.
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// MetadataHeaders lists HTTP headers forwarded into outgoing gRPC
	// metadata. Header names are case-insensitive. Default is none.
	MetadataHeaders []string

	// GraphiQL enables the in-browser IDE when true.
	GraphiQL bool

	Logger *slog.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}
func WithGraphiQL(enable bool) Option  { return func(o *Options) { o.GraphiQL = enable } }
func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a GraphQL HTTP handler executing against s with runtime.
func New(runtime executor.Runtime, s *schema.Schema, opts ...Option) (*Handler, error) {
	op := Options{Timeout: 10 * time.Second, GraphiQL: true, Logger: slog.Default()}
	for _, f := range opts {
		f(&op)
	}
	exec := executor.NewExecutor(runtime, s, executor.WithLogger(op.Logger))
	return &Handler{exec: exec, schema: s, opt: op}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	var rid reqid.ID
	if id, ok := reqid.Parse(r.Header.Get(reqid.Header)); ok {
		rid = id
		ctx = reqid.WithID(ctx, id)
	} else {
		ctx, rid = reqid.NewContext(ctx)
	}
	w.Header().Set(reqid.Header, rid.String())

	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{RequestID: rid, Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{RequestID: rid, Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, requestError("method not allowed"), h.opt.Pretty)
		return
	}

	if r.Method == http.MethodGet && h.opt.GraphiQL && acceptsHTML(r.Header.Get("Accept")) && r.URL.Query().Get("query") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, graphiqlPage)
		return
	}

	ctx = metadata.NewOutgoingContext(ctx, h.outgoingMetadata(r, rid))

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		h.opt.Logger.WarnContext(ctx, "rejected graphql request",
			slog.String("request_id", rid.String()),
			slog.String("reason", berr.Message))
		writeJSON(w, status, response{Errors: []responseError{fromLanguageError(berr)}}, h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch != nil {
		out := make([]response, len(batch))
		for i := range batch {
			out[i] = h.executeOne(ctx, rid, batch[i])
		}
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	writeJSON(w, status, h.executeOne(ctx, rid, req), h.opt.Pretty)
}

func (h *Handler) outgoingMetadata(r *http.Request, rid reqid.ID) metadata.MD {
	md := metadata.MD{}
	if len(h.opt.MetadataHeaders) > 0 {
		allowed := make(map[string]struct{}, len(h.opt.MetadataHeaders))
		for _, hdr := range h.opt.MetadataHeaders {
			allowed[strings.ToLower(hdr)] = struct{}{}
		}
		for k, v := range r.Header {
			if _, ok := allowed[strings.ToLower(k)]; ok {
				md[strings.ToLower(k)] = v
			}
		}
	}
	md[MetadataRequestID] = []string{rid.String()}
	return md
}

func (h *Handler) executeOne(ctx context.Context, rid reqid.ID, req GraphQLRequest) response {
	doc, errs := h.parse(req.Query)
	if len(errs) > 0 {
		out := response{Errors: make([]responseError, len(errs))}
		for i, e := range errs {
			out.Errors[i] = fromLanguageError(e)
		}
		return out
	}

	opDef := doc.Operations.ForName(req.OperationName)
	if opDef == nil && req.OperationName == "" && len(doc.Operations) == 1 {
		opDef = doc.Operations[0]
	}
	opType := ""
	if opDef != nil {
		opType = string(opDef.Operation)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{RequestID: rid, Query: req.Query, OperationName: req.OperationName, OperationType: opType})
	result := h.exec.ExecuteRequest(ctx, doc, req.OperationName, req.Variables, nil)
	errList := make([]error, len(result.Errors))
	codes := make([]string, len(result.Errors))
	for i := range result.Errors {
		errList[i] = result.Errors[i]
		codes[i], _ = result.Errors[i].Extensions["code"].(string)
	}
	duration := time.Since(start)
	eventbus.Publish(ctx, events.GraphQLFinish{
		RequestID:     rid,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        errList,
		Codes:         codes,
		Duration:      duration,
	})
	h.opt.Logger.DebugContext(ctx, "executed graphql operation",
		slog.String("request_id", rid.String()),
		slog.String("operation", opType),
		slog.String("name", req.OperationName),
		slog.Int("errors", len(result.Errors)),
		slog.Duration("duration", duration))
	return toResponse(result)
}

// parse parses the document and, when the schema carries its validated
// form, runs the standard validation rules.
func (h *Handler) parse(query string) (*language.QueryDocument, language.ErrorList) {
	if h.schema.AST != nil {
		return language.LoadQuery(h.schema.AST, query)
	}
	doc, err := language.ParseQuery(query)
	if err != nil {
		return nil, language.ErrorList{language.AsError(err)}
	}
	return doc, nil
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, *language.Error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, &language.Error{Message: "missing 'query'"}
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, &language.Error{Message: "invalid 'variables' JSON"}
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return GraphQLRequest{}, nil, &language.Error{Message: "unsupported Content-Type"}
	}
	defer r.Body.Close()
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, nil, &language.Error{Message: "failed to read body"}
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, nil, &language.Error{Message: errBodyTooLargeMessage}
	}

	if len(body) > 0 && body[0] == '[' {
		var arr []GraphQLRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return GraphQLRequest{}, nil, &language.Error{Message: "invalid JSON"}
		}
		if len(arr) == 0 {
			return GraphQLRequest{}, nil, &language.Error{Message: "empty batch"}
		}
		return GraphQLRequest{}, arr, nil
	}
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GraphQLRequest{}, nil, &language.Error{Message: "invalid JSON"}
	}
	if req.Query == "" {
		return GraphQLRequest{}, nil, &language.Error{Message: "missing 'query'"}
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	return req, nil, nil
}

// ------------------ Response formatting ------------------

type responseLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type responseError struct {
	Message    string             `json:"message"`
	Locations  []responseLocation `json:"locations,omitempty"`
	Path       []any              `json:"path,omitempty"`
	Extensions map[string]any     `json:"extensions,omitempty"`
}

// response is one GraphQL result. Data is omitted for request errors, where
// execution never started.
type response struct {
	Data   *map[string]any `json:"data,omitempty"`
	Errors []responseError `json:"errors,omitempty"`
}

func requestError(message string) response {
	return response{Errors: []responseError{{Message: message}}}
}

func fromLanguageError(e *language.Error) responseError {
	out := responseError{Message: e.Message, Extensions: e.Extensions}
	for _, loc := range e.Locations {
		out.Locations = append(out.Locations, responseLocation{Line: loc.Line, Column: loc.Column})
	}
	return out
}

func toResponse(res *executor.ExecutionResult) response {
	var out response
	if data, ok := res.Data.(map[string]any); ok {
		out.Data = &data
	}
	if len(res.Errors) == 0 {
		return out
	}
	out.Errors = make([]responseError, len(res.Errors))
	for i, e := range res.Errors {
		re := responseError{Message: e.Message, Extensions: e.Extensions}
		if len(e.Path) > 0 {
			re.Path = make([]any, len(e.Path))
			for j, pe := range e.Path {
				switch v := pe.(type) {
				case string, int:
					re.Path[j] = v
				default:
					b, _ := json.Marshal(v)
					re.Path[j] = string(b)
				}
			}
		}
		out.Errors[i] = re
	}
	return out
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

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	wildcard := false
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
		if o == "*" || o == origin {
			allowed = true
		}
	}
	if !allowed {
		return
	}
	if wildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Expose-Headers", reqid.Header)
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func acceptsHTML(accept string) bool {
	for _, p := range strings.Split(accept, ",") {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "text/html") {
			return true
		}
	}
	return false
}
