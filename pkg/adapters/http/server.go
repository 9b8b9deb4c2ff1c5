package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/glimpse"
	"github.com/aretw0/glimpse/internal/logging"
	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/negotiate"
	"github.com/aretw0/glimpse/pkg/placeholder"
	"github.com/aretw0/glimpse/pkg/ports"
	"github.com/aretw0/glimpse/pkg/session"
)

// Pipeline defines what the HTTP adapter needs from glimpse.Pipeline.
type Pipeline interface {
	Mount(ctx context.Context, req domain.ImageRequest, target domain.TargetID, cb domain.Callbacks) (*glimpse.Image, error)
	ComposeWithProbe(req domain.ImageRequest, probe ports.CapabilityProbe) (string, domain.NegotiatedFormat)
	Placeholder(width, height int) domain.PlaceholderToken
	Sessions() *session.Manager
}

// Server exposes the pipeline over HTTP.
type Server struct {
	Pipeline Pipeline
	Streams  *StreamManager
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the handler.
type Option func(*Server)

// WithStreams serves transition streams from sm. Its Hooks must be registered on the pipeline.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithGatherer serves GET /metrics from g.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates the HTTP handler for the pipeline.
func NewHandler(p Pipeline, opts ...Option) http.Handler {
	s := &Server{Pipeline: p, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/healthz", s.GetHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/compose", s.Compose)
		r.Get("/placeholder", s.Placeholder)
		r.Post("/requests", s.CreateRequest)
		r.Get("/requests/{id}", s.GetRequest)
		r.Delete("/requests/{id}", s.DeleteRequest)
		r.Get("/requests/{id}/events", s.SubscribeEvents)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /healthz.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": glimpse.Version})
}

// ComposeResponse is the body of GET /v1/compose.
type ComposeResponse struct {
	DeliveryURL string `json:"delivery_url"`
	Format      string `json:"format"`
}

// Compose handles GET /v1/compose. The format is negotiated from the Accept header.
func (s *Server) Compose(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := map[string]any{"src": q.Get("src")}
	for key, field := range map[string]string{"w": "width", "h": "height", "q": "quality", "format": "format", "allow_next_gen": "allow_next_gen"} {
		if v := q.Get(key); v != "" {
			params[field] = v
		}
	}

	req, err := decodeRequest(params)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	deliveryURL, format := s.Pipeline.ComposeWithProbe(req, negotiate.AcceptHeader(r.Header.Get("Accept")))
	writeJSON(w, http.StatusOK, ComposeResponse{DeliveryURL: deliveryURL, Format: format.String()})
}

// Placeholder handles GET /v1/placeholder and returns the PNG raster.
func (s *Server) Placeholder(w http.ResponseWriter, r *http.Request) {
	width, errW := optionalInt(r.URL.Query().Get("w"))
	height, errH := optionalInt(r.URL.Query().Get("h"))
	if err := errors.Join(errW, errH); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	data, err := placeholder.PNG(s.Pipeline.Placeholder(width, height))
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(data)
}

// CreateRequest handles POST /v1/requests. The body is an image request plus an
// optional "target".
func (s *Server) CreateRequest(w http.ResponseWriter, r *http.Request) {
	sessions := s.Pipeline.Sessions()
	if sessions == nil {
		s.fail(w, http.StatusServiceUnavailable, errors.New("request tracking is disabled"))
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	target, _ := body["target"].(string)
	delete(body, "target")

	req, err := decodeRequest(body)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if target == "" {
		target = req.SourceURL
	}

	// The request outlives the HTTP call; it is released through DELETE.
	img, err := s.Pipeline.Mount(context.WithoutCancel(r.Context()), req, domain.TargetID(target), domain.Callbacks{})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		s.fail(w, status, err)
		return
	}

	snap, err := sessions.Get(r.Context(), img.ID())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Location", "/v1/requests/"+img.ID())
	writeJSON(w, http.StatusCreated, snap)
}

// GetRequest handles GET /v1/requests/{id}.
func (s *Server) GetRequest(w http.ResponseWriter, r *http.Request) {
	sessions := s.Pipeline.Sessions()
	if sessions == nil {
		s.fail(w, http.StatusServiceUnavailable, errors.New("request tracking is disabled"))
		return
	}
	snap, err := sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DeleteRequest handles DELETE /v1/requests/{id}.
func (s *Server) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	sessions := s.Pipeline.Sessions()
	if sessions == nil {
		s.fail(w, http.StatusServiceUnavailable, errors.New("request tracking is disabled"))
		return
	}
	if err := sessions.Release(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubscribeEvents handles GET /v1/requests/{id}/events (SSE).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	requestID := chi.URLParam(r, "id")
	ch, cancel := s.Streams.Subscribe(requestID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "request_id", requestID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: transition\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// StreamManager fans transition events out to SSE subscribers.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // request ID -> channels
	logger      *slog.Logger
}

// NewStreamManager creates an empty StreamManager.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a channel for requestID. The returned func unsubscribes.
func (sm *StreamManager) Subscribe(requestID string) (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 16)
	if _, ok := sm.subscribers[requestID]; !ok {
		sm.subscribers[requestID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[requestID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if subs, ok := sm.subscribers[requestID]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(sm.subscribers, requestID)
				}
			}
		})
	}
}

// Broadcast sends msg to every subscriber of requestID. Slow subscribers drop messages.
func (sm *StreamManager) Broadcast(requestID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[requestID] {
		select {
		case ch <- msg:
		default:
			sm.logger.Warn("SSE: Client buffer full, dropping message", "request_id", requestID)
		}
	}
}

// TransitionEvent is the SSE payload of a state change.
type TransitionEvent struct {
	RequestID string `json:"request_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Cause     string `json:"cause"`
	URL       string `json:"url,omitempty"`
}

// Hooks returns lifecycle hooks broadcasting every transition.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			data, err := json.Marshal(TransitionEvent{
				RequestID: e.RequestID,
				From:      e.From.String(),
				To:        e.To.String(),
				Cause:     string(e.Cause),
				URL:       e.URL,
			})
			if err != nil {
				sm.logger.Error("Failed to encode transition", "err", err)
				return
			}
			sm.Broadcast(e.RequestID, string(data))
		},
	}
}

// -- Helpers --

// decodeRequest maps loosely typed input (JSON bodies, query strings) onto an
// ImageRequest with the documented defaults. The public "allow_next_gen" switch
// is accepted as the inverse of disable_next_gen.
func decodeRequest(input map[string]any) (domain.ImageRequest, error) {
	req := domain.NewImageRequest("")
	if v, ok := input["allow_next_gen"]; ok {
		var allow bool
		if err := mapstructure.WeakDecode(v, &allow); err != nil {
			return req, fmt.Errorf("%w: allow_next_gen: %v", domain.ErrInvalidRequest, err)
		}
		delete(input, "allow_next_gen")
		input["disable_next_gen"] = !allow
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &req,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return req, err
	}
	if err := decoder.Decode(input); err != nil {
		return req, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return req, nil
}

func optionalInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", domain.ErrInvalidRequest, v)
	}
	return n, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "status", status, "err", err)
	} else {
		s.logger.Debug("Request rejected", "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
