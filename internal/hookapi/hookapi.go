// Package hookapi exposes the request interception and page cosmetic hooks
// of the filter engine over HTTP, so that an out-of-process host can call
// them.
package hookapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/LeFroid/Viper-Browser-sub001/internal/adblock"
	"github.com/LeFroid/Viper-Browser-sub001/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the filter engine called by the hooks.  *adblock.Manager
// implements it.
type Engine interface {
	ShouldBlockRequest(ctx context.Context, reqURL, firstPartyURL string, rt models.ResourceType) (d models.Decision)
	LoadStarted(pageURL string)
	Stylesheet(ctx context.Context, pageURL string) (css string)
	DomainStylesheet(ctx context.Context, pageURL string) (css string)
	DomainJavaScript(ctx context.Context, pageURL string) (script string)
	Resource(name string) (body string)
	ResourceContentType(name string) (mime string)
	Subscriptions() (infos []*adblock.SubscriptionInfo)
	InstallSubscription(ctx context.Context, rawURL string) (err error)
	InstallResource(ctx context.Context, rawURL string) (err error)
	ToggleSubscriptionEnabled(ctx context.Context, idx int) (err error)
	RemoveSubscription(ctx context.Context, idx int) (err error)
	CreateUserSubscription(ctx context.Context) (info *adblock.SubscriptionInfo, err error)
	UpdateSubscriptions(ctx context.Context) (err error)
	ReloadSubscriptions(ctx context.Context)
	SetEnabled(ctx context.Context, enabled bool) (err error)
	Save() (err error)
	Stats() (s *adblock.Stats)
	LogEntries(pageURL string) (entries []adblock.LogEntry)
	AllLogEntries() (entries map[string][]adblock.LogEntry)
}

// type check
var _ Engine = (*adblock.Manager)(nil)

// Config is the configuration of the hook API handler.
type Config struct {
	// Logger is used to log handler errors.  If nil, slog.Default is used.
	Logger *slog.Logger

	// Engine serves the hooks.  It must not be nil.
	Engine Engine

	// Gatherer serves /metrics.  If nil, the endpoint is not registered.
	Gatherer prometheus.Gatherer
}

// server holds the handler dependencies.
type server struct {
	logger *slog.Logger
	engine Engine
}

// New returns the HTTP handler of the hook API.
func New(c *Config) (h http.Handler) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &server{
		logger: logger.With(slogutil.KeyPrefix, "hookapi"),
		engine: c.Engine,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/request", s.handleRequest)
		r.Post("/load-started", s.handleLoadStarted)

		r.Get("/stylesheet", s.handleStylesheet)
		r.Get("/domain-stylesheet", s.handleDomainStylesheet)
		r.Get("/domain-script", s.handleDomainScript)

		r.Get("/resources/{name}", s.handleResource)
		r.Post("/resources", s.handleInstallResource)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", s.handleListSubscriptions)
			r.Post("/", s.handleInstallSubscription)
			r.Post("/update", s.handleUpdateSubscriptions)
			r.Post("/reload", s.handleReloadSubscriptions)
			r.Post("/user", s.handleCreateUserSubscription)
			r.Post("/{index}/toggle", s.handleToggleSubscription)
			r.Delete("/{index}", s.handleRemoveSubscription)
		})

		r.Put("/enabled", s.handleSetEnabled)
		r.Post("/save", s.handleSave)
		r.Get("/stats", s.handleStats)
		r.Get("/log", s.handleLog)
	})

	if c.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(c.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// requestBody is the body of POST /v1/request.
type requestBody struct {
	URL           string `json:"url"`
	FirstPartyURL string `json:"first_party_url"`
	ResourceType  string `json:"resource_type"`
}

// urlBody is the body of the handlers taking a single URL.
type urlBody struct {
	URL string `json:"url"`
}

// enabledBody is the body of PUT /v1/enabled.
type enabledBody struct {
	Enabled bool `json:"enabled"`
}

// errorBody is the body of error responses.
type errorBody struct {
	Error string `json:"error"`
}

func (s *server) handleRequest(w http.ResponseWriter, r *http.Request) {
	body := &requestBody{}
	if !s.decode(w, r, body) {
		return
	}

	if body.URL == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.Error("url is required"))

		return
	}

	rt := models.ParseResourceType(body.ResourceType)
	d := s.engine.ShouldBlockRequest(r.Context(), body.URL, body.FirstPartyURL, rt)
	s.writeJSON(w, r, http.StatusOK, d)
}

func (s *server) handleLoadStarted(w http.ResponseWriter, r *http.Request) {
	body := &urlBody{}
	if !s.decode(w, r, body) {
		return
	}

	s.engine.LoadStarted(body.URL)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleStylesheet(w http.ResponseWriter, r *http.Request) {
	css := s.engine.Stylesheet(r.Context(), r.URL.Query().Get("url"))
	writeText(w, "text/css; charset=utf-8", css)
}

func (s *server) handleDomainStylesheet(w http.ResponseWriter, r *http.Request) {
	css := s.engine.DomainStylesheet(r.Context(), r.URL.Query().Get("url"))
	writeText(w, "text/css; charset=utf-8", css)
}

func (s *server) handleDomainScript(w http.ResponseWriter, r *http.Request) {
	script := s.engine.DomainJavaScript(r.Context(), r.URL.Query().Get("url"))
	writeText(w, "application/javascript; charset=utf-8", script)
}

func (s *server) handleResource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body := s.engine.Resource(name)
	if body == "" {
		http.NotFound(w, r)

		return
	}

	mime := s.engine.ResourceContentType(name)
	if mime == "" {
		mime = "text/plain"
	}

	writeText(w, mime, body)
}

func (s *server) handleInstallResource(w http.ResponseWriter, r *http.Request) {
	body := &urlBody{}
	if !s.decode(w, r, body) {
		return
	}

	err := s.engine.InstallResource(r.Context(), body.URL)
	if err != nil {
		s.writeError(w, r, statusOf(err), err)

		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (s *server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	infos := s.engine.Subscriptions()
	if infos == nil {
		infos = []*adblock.SubscriptionInfo{}
	}

	s.writeJSON(w, r, http.StatusOK, infos)
}

func (s *server) handleInstallSubscription(w http.ResponseWriter, r *http.Request) {
	body := &urlBody{}
	if !s.decode(w, r, body) {
		return
	}

	err := s.engine.InstallSubscription(r.Context(), body.URL)
	if err != nil {
		s.writeError(w, r, statusOf(err), err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, s.engine.Subscriptions())
}

func (s *server) handleUpdateSubscriptions(w http.ResponseWriter, r *http.Request) {
	err := s.engine.UpdateSubscriptions(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusBadGateway, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleReloadSubscriptions(w http.ResponseWriter, r *http.Request) {
	s.engine.ReloadSubscriptions(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleCreateUserSubscription(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.CreateUserSubscription(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, info)
}

func (s *server) handleToggleSubscription(w http.ResponseWriter, r *http.Request) {
	s.withIndex(w, r, s.engine.ToggleSubscriptionEnabled)
}

func (s *server) handleRemoveSubscription(w http.ResponseWriter, r *http.Request) {
	s.withIndex(w, r, s.engine.RemoveSubscription)
}

// withIndex calls op with the subscription index of the request path
func (s *server) withIndex(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, idx int) (err error),
) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("index: %w", err))

		return
	}

	err = op(r.Context(), idx)
	if err != nil {
		s.writeError(w, r, statusOf(err), err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	body := &enabledBody{}
	if !s.decode(w, r, body) {
		return
	}

	err := s.engine.SetEnabled(r.Context(), body.Enabled)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSave(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Save()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.engine.Stats())
}

// handleLog serves the filter actions of the page in the url query
// parameter, or of every page if it is empty.
func (s *server) handleLog(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		s.writeJSON(w, r, http.StatusOK, s.engine.AllLogEntries())

		return
	}

	entries := s.engine.LogEntries(pageURL)
	if entries == nil {
		entries = []adblock.LogEntry{}
	}

	s.writeJSON(w, r, http.StatusOK, entries)
}

// statusOf maps engine errors to response codes
func statusOf(err error) (code int) {
	switch {
	case errors.Is(err, adblock.ErrNoSubscription):
		return http.StatusNotFound
	case errors.Is(err, adblock.ErrInvalidURL):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// decode reads the JSON body of r into v.  It writes an error response and
// returns false on failure.
func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) (ok bool) {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decoding body: %w", err))

		return false
	}

	return true
}

func (s *server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.logger.DebugContext(r.Context(), "writing response", slogutil.KeyError, err)
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	s.logger.DebugContext(r.Context(), "request failed", "path", r.URL.Path, "code", code, slogutil.KeyError, err)
	s.writeJSON(w, r, code, &errorBody{Error: err.Error()})
}

func writeText(w http.ResponseWriter, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write([]byte(body))
}
