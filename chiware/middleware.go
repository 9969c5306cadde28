// Package chiware exposes the audit pipeline as chi middleware. Each
// audited route declares its audit type; the request's URL, query and
// form values become the call parameters and the JSON response envelope
// becomes the call result.
package chiware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/samber/lo"

	audit "github.com/kafeiih/go-opaudit"
)

// UserInfo carries the authenticated user identity extracted by the host application.
type UserInfo struct {
	UserID   string
	Username string
	Tenant   string
}

// UserExtractor is a function that retrieves the current user from the
// request context.  Each host application injects its own implementation
// (e.g. from Zitadel, Keycloak, etc.).
type UserExtractor func(context.Context) *UserInfo

// Middleware audits the routes it is mounted on.
type Middleware struct {
	pipeline  *audit.Pipeline
	logger    *slog.Logger
	extractor UserExtractor
}

// NewMiddleware creates a Middleware feeding pipeline.
// The extractor function is called on each request to obtain the current user;
// if it returns nil and no actor is already in the context, the pipeline
// passes the request through unaudited.
func NewMiddleware(pipeline *audit.Pipeline, logger *slog.Logger, extractor UserExtractor) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		pipeline:  pipeline,
		logger:    logger,
		extractor: extractor,
	}
}

// Handler returns chi middleware auditing every request as auditType.
// The description overrides the catalog template when non-empty.
func (m *Middleware) Handler(auditType audit.AuditType, description string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := m.withActor(r)
			params := ExtractParams(r)

			status := 0
			call := func(ctx context.Context, _ audit.Params) (audit.Result, error) {
				var body bytes.Buffer
				ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
				ww.Tee(&body)

				next.ServeHTTP(ww, r.WithContext(ctx))

				status = ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				return DecodeResult(status, body.Bytes()), nil
			}

			// The handler has already written the response; only the
			// audit outcome is left to observe.
			res, _ := m.pipeline.Record(ctx, auditType, description, params, call)
			m.logger.Debug("audited request",
				"audit_type", auditType,
				"path", r.URL.Path,
				"status", status,
				"code", res.Code,
			)
		})
	}
}

func (m *Middleware) withActor(r *http.Request) context.Context {
	ctx := r.Context()
	if audit.ActorFrom(ctx) != nil || m.extractor == nil {
		return ctx
	}
	user := m.extractor(ctx)
	if user == nil {
		return ctx
	}
	return audit.WithActor(ctx, audit.Actor{
		UserID:        user.UserID,
		Username:      user.Username,
		Tenant:        user.Tenant,
		CorrelationID: ExtractCorrelationID(r),
		IP:            ExtractIP(r.RemoteAddr),
		UserAgent:     r.UserAgent(),
	})
}

// ExtractParams collects the request's chi URL parameters, then query
// values, then form values. The first source to name a parameter wins;
// repeated query or form values are joined with commas.
func ExtractParams(r *http.Request) audit.Params {
	params := audit.Params{}

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for _, kv := range lo.Zip2(rctx.URLParams.Keys, rctx.URLParams.Values) {
			if kv.A == "" || kv.A == "*" {
				continue
			}
			if _, ok := params[kv.A]; !ok {
				params[kv.A] = kv.B
			}
		}
	}

	for key, values := range r.URL.Query() {
		if _, ok := params[key]; !ok && len(values) > 0 {
			params[key] = strings.Join(values, ",")
		}
	}

	if err := r.ParseForm(); err == nil {
		for key, values := range r.PostForm {
			if _, ok := params[key]; !ok && len(values) > 0 {
				params[key] = strings.Join(values, ",")
			}
		}
	}

	return params
}

type envelope struct {
	Code *int            `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// DecodeResult turns a captured response into a call result. A JSON body
// with a "code" member is read as {code,msg,data}; any other JSON body
// becomes the result data. A status of 400 or above marks the call failed
// even when the body reports success.
func DecodeResult(status int, body []byte) audit.Result {
	var res audit.Result

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Code != nil {
		res.Code = *env.Code
		res.Msg = env.Msg
		res.Data = decodeJSON(env.Data)
	} else {
		res.Data = decodeJSON(body)
	}

	if status >= http.StatusBadRequest && res.Code == 0 {
		res.Code = status
		if res.Msg == "" {
			res.Msg = http.StatusText(status)
		}
	}
	return res
}

func decodeJSON(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

// ExtractCorrelationID returns request correlation id from common headers.
func ExtractCorrelationID(r *http.Request) string {
	if v := r.Header.Get("X-Correlation-ID"); v != "" {
		return v
	}
	if v := r.Header.Get("X-Request-ID"); v != "" {
		return v
	}
	return chiMiddleware.GetReqID(r.Context())
}

// ExtractIP strips the port from a host:port address.
func ExtractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
