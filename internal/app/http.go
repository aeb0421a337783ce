package app

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/entity"
	"pmslens/api/internal/export"
	"pmslens/api/internal/links"
	"pmslens/api/internal/listing"
	"pmslens/api/internal/routing"
)

//go:embed templates/*.html
var templateFS embed.FS

type HTTPServer struct {
	service    *Service
	corsOrigin string
	pages      *template.Template
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	flags := service.Flags()
	funcs := template.FuncMap{
		"humanize": entity.Humanize,
		"listPath": routing.ListAddress,
		"rowHref": func(item entity.Summary) string {
			return routing.Encode(routing.Selection{Kind: item.Kind, ID: item.ID}, flags)
		},
	}
	pages := template.Must(template.New("pages").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
	return &HTTPServer{service: service, corsOrigin: corsOrigin, pages: pages}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	// Pages and actions carry whatever session the request has. An incomplete
	// session is refused by the accessor before any backend call and rendered
	// as the sign-in state.
	session, _ := auth.FromRequest(r)

	parts := splitPath(r.URL)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "views" {
		s.handleViews(w, r, session, parts[2:])
		return
	}

	if r.URL.Path == routing.LegacyPath && r.Method == http.MethodGet {
		sel, ok := routing.DecodeURL(r.URL)
		if !ok {
			writeError(w, http.StatusNotFound, "UNKNOWN_RESOURCE", "No such list", nil)
			return
		}
		if sel.ID == "" {
			s.serveList(w, r, session, sel)
			return
		}
		s.serveLens(w, r, session, sel)
		return
	}

	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	kind, ok := entity.KindForResource(parts[0])
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_RESOURCE", "No such list", nil)
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		sel, _ := routing.DecodeURL(r.URL)
		if sel.Filter == "" {
			sel.Filter = r.URL.Query().Get("q")
		}
		s.serveList(w, r, session, sel)

	case r.Method == http.MethodGet && kind == entity.KindThread && len(parts) == 3 && parts[1] == "links" && parts[2] == "manual":
		writeJSON(w, http.StatusOK, links.ManualLinking())

	case r.Method == http.MethodGet && len(parts) == 2:
		if target, ok := routing.LegacyRedirect(r.URL, s.service.Flags()); ok {
			http.Redirect(w, r, target, routing.RedirectStatus)
			return
		}
		sel, _ := routing.DecodeURL(r.URL)
		s.serveLens(w, r, session, sel)

	case r.Method == http.MethodGet && kind == entity.KindThread && len(parts) == 3 && parts[2] == "links":
		panel, err := s.service.ThreadLinks(r.Context(), session, parts[1])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, panel)

	case r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "export":
		s.handleExport(w, r, session, routing.Selection{Kind: kind, ID: parts[1]})

	case r.Method == http.MethodPost && len(parts) == 4 && parts[2] == "actions":
		s.handleAction(w, r, session, kind, parts[1], parts[3])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) serveList(w http.ResponseWriter, r *http.Request, session auth.Session, sel routing.Selection) {
	query := r.URL.Query()
	page := s.service.ListPage(r.Context(), session, sel, ListOptions{
		Status:   query.Get("status"),
		Grouping: listing.Grouping(query.Get("group")),
	})
	status := statusForList(page)
	if page.Lens != nil && status == http.StatusOK {
		status = statusForLens(page.Lens.State)
	}
	s.render(w, r, status, "list.html", page)
}

func (s *HTTPServer) serveLens(w http.ResponseWriter, r *http.Request, session auth.Session, sel routing.Selection) {
	view := s.service.LensPage(r.Context(), session, sel)
	s.render(w, r, statusForLens(view.State), "lens.html", view)
}

func (s *HTTPServer) handleAction(w http.ResponseWriter, r *http.Request, session auth.Session, kind entity.Kind, id, action string) {
	var body struct {
		Payload map[string]any `json:"payload"`
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.Payload = make(map[string]any, len(r.PostForm))
		for key := range r.PostForm {
			body.Payload[key] = r.PostForm.Get(key)
		}
	} else if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	result := s.service.Dispatch(r.Context(), session, kind, id, action, body.Payload)
	status := http.StatusOK
	if !result.Success && result.Error != nil && result.Error.Status == http.StatusUnauthorized {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, result)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session auth.Session, sel routing.Selection) {
	format, ok := export.ParseFormat(r.URL.Query().Get("format"))
	if !ok {
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Format must be html or pdf", nil)
		return
	}
	result, err := s.service.Export(r.Context(), session, sel, format)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleViews(w http.ResponseWriter, r *http.Request, session auth.Session, parts []string) {
	views := s.service.views
	switch {
	case r.Method == http.MethodPost && len(parts) == 0:
		var body struct {
			Resource string `json:"resource"`
			Address  string `json:"address"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		address := body.Address
		if address == "" {
			address = "/" + strings.Trim(body.Resource, "/")
		}
		view, err := views.Create(session, address)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, view.Snapshot(r.Context()))

	case r.Method == http.MethodGet && len(parts) == 1:
		view, err := views.Get(session, parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view.Snapshot(r.Context()))

	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "intents":
		view, err := views.Get(session, parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		var in Intent
		if err := decodeBody(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := view.Apply(r.Context(), in)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		snap := view.Snapshot(r.Context())
		snap.Result = result
		writeJSON(w, http.StatusOK, snap)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// render writes page as HTML when the client asks for it, JSON otherwise.
func (s *HTTPServer) render(w http.ResponseWriter, r *http.Request, status int, name string, page any) {
	if !wantsHTML(r) {
		writeJSON(w, status, page)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.pages.ExecuteTemplate(w, name, page); err != nil {
		slog.Error("app: render page", "request_id", RequestID(r.Context()), "template", name, "error", err)
	}
}

func wantsHTML(r *http.Request) bool {
	if r.URL.Query().Get("format") == "html" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		slog.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

// RequestID returns the id the middleware attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Scope-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// splitPath splits the escaped path so an id containing "/" stays one
// segment, then unescapes each segment.
func splitPath(u *url.URL) []string {
	trimmed := strings.Trim(u.EscapedPath(), "/")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		if unescaped, err := url.PathUnescape(part); err == nil {
			parts[i] = unescaped
		}
	}
	return parts
}
