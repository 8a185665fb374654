package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bankintake/internal/domain"
	"bankintake/internal/engine"
	"bankintake/internal/engine/auth"
	"bankintake/internal/logger"
	"bankintake/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Metrics  *metrics.Collector
	Log      logger.Logger
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError is the envelope every failed request returns.
type apiError struct {
	status  int
	Success bool           `json:"success"`
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"error" example:"missing required fields: phone"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// handlers carries what every operation needs.
type handlers struct {
	eng  engine.Engine
	log  logger.Logger
	auth AuthConfig
}

// New returns an HTTP handler exposing the intake API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	cfg.Auth.Log = log
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(cfg.Metrics.Middleware)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusRequestEntityTooLarge, "", "request body too large", nil))
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", cfg.Metrics.Handler())

	hcfg := huma.DefaultConfig("Bank Intake API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{eng: cfg.Engine, log: log, auth: cfg.Auth}
	registerDocs(router, basePath)
	registerHealth(group, h)
	for _, f := range domain.Families {
		registerApplications(group, h, f)
	}
	registerAdmin(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// fail maps engine errors to the API envelope. Store and unexpected errors
// are logged in full and answered generically.
func (h handlers) fail(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if len(ve.Missing) > 0 {
			details["missingFields"] = ve.Missing
		}
		if len(ve.Invalid) > 0 {
			details["invalidFields"] = ve.Invalid
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", ve.Error(), details)
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"roles": fe.Roles})
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", domain.ErrNotFound.Error(), nil)
	case errors.Is(err, domain.ErrDuplicateReference):
		return newAPIError(http.StatusConflict, "duplicate_reference", "reference number already in use", nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		var te *domain.TransitionError
		if errors.As(err, &te) {
			return newAPIError(http.StatusConflict, "invalid_transition", fmt.Sprintf("application is already %s", te.From),
				map[string]any{"status": te.From, "requested": te.To})
		}
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.log.WithError(err).Error("application store unavailable", requestFields(ctx))
		return newAPIError(http.StatusServiceUnavailable, "store_unavailable", "service temporarily unavailable, try again later", nil)
	default:
		h.log.WithError(err).Error("unhandled error", requestFields(ctx))
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func requestFields(ctx context.Context) map[string]interface{} {
	fields := map[string]interface{}{}
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		fields["method"] = req.Method
		fields["path"] = req.URL.Path
	}
	if id := middleware.GetReqID(ctx); id != "" {
		fields["request_id"] = id
	}
	return fields
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "store_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var doc []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if doc == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

const apiErrorRef = "#/components/schemas/ApiError"

// registerAPIError adds the error envelope to the component schemas.
func registerAPIError(oas *huma.OpenAPI) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.Schemas == nil {
		oas.Components.Schemas = huma.NewMapRegistry("#/components/schemas/", huma.DefaultSchemaNamer)
	}
	schemas := oas.Components.Schemas.Map()
	if _, ok := schemas["ApiError"]; !ok {
		schemas["ApiError"] = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), false, "ApiError")
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	registerAPIError(oas)
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: apiErrorRef},
					},
				},
			}
		}
	}
}

// applyAuthSecurity marks staff operations as bearer protected. Submission
// and health stay public.
func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if isPublicRoute(basePath, route) {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func isPublicRoute(basePath, route string) bool {
	rel := strings.TrimPrefix(route, basePath)
	return rel == "/health" || strings.HasSuffix(rel, "/apply") || strings.HasSuffix(rel, "/open")
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Bank Intake API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Staff operations take Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

type healthBody struct {
	Status string `json:"status" example:"ok"`
	Store  string `json:"store" example:"ok"`
}

func registerHealth(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body healthBody `json:"body"`
	}, error) {
		if err := h.eng.Ping(ctx); err != nil {
			h.log.WithError(err).Warn("health check failed", nil)
			return nil, newAPIError(http.StatusServiceUnavailable, "store_unavailable", "application store unreachable", nil)
		}
		return &struct {
			Body healthBody `json:"body"`
		}{Body: healthBody{Status: "ok", Store: "ok"}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
