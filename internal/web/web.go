package web

import (
	"bytes"
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nholik/safety-companion/internal/config"
	"github.com/nholik/safety-companion/internal/diagnostic"
	"github.com/nholik/safety-companion/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	pathLanding   = "/"
	pathDiagnose  = "/api-test"
	pathCheck     = "/api-test/check"
	pathState     = "/api-test/state"
	defaultReload = time.Second
	maxWait       = 30 * time.Second
)

//go:embed templates/*.html
var templateFS embed.FS

// Probe is the diagnostic view state the pages render.
type Probe interface {
	Trigger() uint64
	TriggerIfIdle() (token uint64, started bool)
	Snapshot() diagnostic.State
	Wait(ctx context.Context, token uint64) (diagnostic.State, error)
}

// Handler serves the landing and diagnostic pages.
type Handler struct {
	logger       zerolog.Logger
	probe        Probe
	metrics      *metrics.Metrics
	backendURL   string
	endpointPath string
	reload       time.Duration
	landing      []byte
	landingETag  string
	diagnostic   *template.Template
}

// Option customizes a Handler.
type Option func(*Handler)

// WithMetrics counts rendered pages.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithReloadInterval sets how often a loading diagnostic page refreshes itself.
func WithReloadInterval(interval time.Duration) Option {
	return func(h *Handler) {
		if interval > 0 {
			h.reload = interval
		}
	}
}

// New builds a Handler. The landing page is rendered once here and served
// from memory afterwards.
func New(logger zerolog.Logger, probe Probe, checklist config.ChecklistFile, backendURL, endpointPath string, opts ...Option) (*Handler, error) {
	landingTmpl, err := template.ParseFS(templateFS, "templates/landing.html")
	if err != nil {
		return nil, fmt.Errorf("parse landing template: %w", err)
	}
	diagnosticTmpl, err := template.ParseFS(templateFS, "templates/diagnostic.html")
	if err != nil {
		return nil, fmt.Errorf("parse diagnostic template: %w", err)
	}

	var buf bytes.Buffer
	if err := landingTmpl.Execute(&buf, checklist); err != nil {
		return nil, fmt.Errorf("render landing page: %w", err)
	}

	h := &Handler{
		logger:       logger,
		probe:        probe,
		backendURL:   backendURL,
		endpointPath: endpointPath,
		reload:       defaultReload,
		landing:      buf.Bytes(),
		landingETag:  fingerprint(buf.Bytes()),
		diagnostic:   diagnosticTmpl,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the page routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+pathLanding+"{$}", h.handleLanding)
	mux.HandleFunc("GET "+pathDiagnose, h.handleDiagnostic)
	mux.HandleFunc("POST "+pathCheck, h.handleCheck)
	mux.HandleFunc("GET "+pathState, h.handleState)
}

func (h *Handler) handleLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", h.landingETag)
	if r.Header.Get("If-None-Match") == h.landingETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.metrics.IncPageRenders("landing")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(h.landing)
}

type diagnosticView struct {
	State          diagnostic.State
	BackendURL     string
	EndpointPath   string
	CheckURL       string
	SelfURL        string
	RefreshSeconds int
}

// handleDiagnostic renders the diagnostic view. A request without a token is
// a fresh mount: it starts a check (or joins the outstanding one) and
// redirects to the token-scoped URL.
func (h *Handler) handleDiagnostic(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rawToken := query.Get("token")
	if rawToken == "" {
		token, started := h.probe.TriggerIfIdle()
		h.logger.Debug().Uint64("token", token).Bool("started", started).Msg("diagnostic view mounted")
		http.Redirect(w, r, diagnosticURL(token), http.StatusSeeOther)
		return
	}

	token, err := strconv.ParseUint(rawToken, 10, 64)
	if err != nil {
		http.Error(w, "invalid token", http.StatusBadRequest)
		return
	}

	st := h.probe.Snapshot()
	if wait := query.Get("wait"); wait != "" && st.Loading() {
		st, err = h.waitFor(r.Context(), token, wait)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	view := diagnosticView{
		State:          st,
		BackendURL:     h.backendURL,
		EndpointPath:   h.endpointPath,
		CheckURL:       pathCheck,
		SelfURL:        diagnosticURL(st.Token),
		RefreshSeconds: refreshSeconds(h.reload),
	}

	var buf bytes.Buffer
	if err := h.diagnostic.Execute(&buf, view); err != nil {
		h.logger.Error().Err(err).Msg("render diagnostic page")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	h.metrics.IncPageRenders("diagnostic")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

func (h *Handler) waitFor(ctx context.Context, token uint64, raw string) (diagnostic.State, error) {
	wait, err := time.ParseDuration(raw)
	if err != nil {
		return diagnostic.State{}, fmt.Errorf("invalid wait: %w", err)
	}
	if wait > maxWait {
		wait = maxWait
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	// A timeout just means the page renders the loading branch.
	st, _ := h.probe.Wait(ctx, token)
	return st, nil
}

// handleCheck is the "Test Connection" button.
func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	token := h.probe.Trigger()
	h.logger.Debug().Uint64("token", token).Msg("health check triggered from diagnostic view")
	http.Redirect(w, r, diagnosticURL(token), http.StatusSeeOther)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	st := h.probe.Snapshot()
	payload := struct {
		diagnostic.State
		FailureLabel string `json:"failure_label,omitempty"`
		CORS         string `json:"cors"`
	}{
		State: st,
		CORS:  st.CORSStatus(),
	}
	if st.Phase == diagnostic.PhaseFailure {
		payload.FailureLabel = st.FailureLabel()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(payload)
}

// fingerprint returns a strong ETag for the rendered landing page.
func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func diagnosticURL(token uint64) string {
	values := url.Values{}
	values.Set("token", strconv.FormatUint(token, 10))
	return pathDiagnose + "?" + values.Encode()
}

func refreshSeconds(d time.Duration) int {
	seconds := int(d / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
