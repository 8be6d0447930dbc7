package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/trainer/internal/executor"
	"github.com/pavelanni/trainer/internal/grader"
	"github.com/pavelanni/trainer/internal/i18n"
	"github.com/pavelanni/trainer/internal/model"
	"github.com/pavelanni/trainer/internal/quizcache"
	"github.com/pavelanni/trainer/internal/retry"
	"github.com/pavelanni/trainer/internal/sequencer"
	"github.com/pavelanni/trainer/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	exec   *executor.Executor
	cache  *quizcache.Cache
	config model.EngineConfig
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry

	done      chan struct{}
	closeOnce sync.Once
}

type entry struct {
	sess     *sequencer.Session
	lastUsed time.Time
}

// New creates a new Handler. The executor and question cache are shared by
// every session the handler creates. When cfg.SessionIdle is set, sessions
// left unused for that long are closed in the background; otherwise clients
// must end them with DELETE.
func New(s *store.Store, cfg model.EngineConfig) (*Handler, error) {
	if s == nil {
		return nil, errors.New("store is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	exec := executor.New(cfg.ExecutorLimit, cfg.OpTimeout)
	policy := retry.Policy{Base: cfg.RetryBase, Cap: cfg.RetryCap, MaxAttempts: cfg.RetryAttempts}
	h := &Handler{
		store:    s,
		exec:     exec,
		cache:    quizcache.New(s, exec, policy),
		config:   cfg,
		now:      time.Now,
		sessions: make(map[string]*entry),
		done:     make(chan struct{}),
	}
	if cfg.SessionIdle > 0 {
		go h.sweepLoop(cfg.SessionIdle)
	}
	return h, nil
}

func validateConfig(cfg model.EngineConfig) error {
	switch {
	case cfg.RetryAttempts < 1:
		return fmt.Errorf("retry attempts must be at least 1, got %d", cfg.RetryAttempts)
	case cfg.RetryBase < 0 || cfg.RetryCap < 0:
		return fmt.Errorf("retry delays must not be negative")
	case cfg.OpTimeout < 0 || cfg.RefreshCooldown < 0 || cfg.SessionIdle < 0:
		return fmt.Errorf("timeouts must not be negative")
	case cfg.PassThreshold < 0 || cfg.PassThreshold > 100:
		return fmt.Errorf("pass threshold must be within 0..100, got %g", cfg.PassThreshold)
	}
	return nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/stats", h.handleStats)
	r.Post("/sessions", h.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Delete("/", h.handleEndSession)
		r.Post("/bootstrap", h.handleBootstrap)
		r.Get("/modules", h.handleModules)
		r.Post("/modules/{moduleID}/select", h.handleSelectModule)
		r.Post("/video-watched", h.handleVideoWatched)
		r.Post("/quiz/open", h.handleOpenQuiz)
		r.Post("/quiz/submit", h.handleSubmitQuiz)
		r.Post("/continue", h.handleContinue)
		r.Get("/outcome", h.handleOutcome)
		r.Post("/outcome/push", h.handlePushOutcome)
	})
}

// Close stops the idle sweep and ends every open session.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*entry)
	h.mu.Unlock()

	for _, e := range sessions {
		e.sess.Close()
	}
	slog.Info("executor stats", "peak", h.exec.Peak(), "completed", h.exec.Completed())
}

func (h *Handler) sweepLoop(idle time.Duration) {
	interval := idle / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.sweep(idle)
		}
	}
}

// sweep closes sessions not used within idle and returns how many it closed.
func (h *Handler) sweep(idle time.Duration) int {
	cutoff := h.now().Add(-idle)

	h.mu.Lock()
	var stale []*sequencer.Session
	for id, e := range h.sessions {
		if e.lastUsed.Before(cutoff) {
			stale = append(stale, e.sess)
			delete(h.sessions, id)
			slog.Info("session expired", "session_id", id, "user_id", e.sess.UserID())
		}
	}
	h.mu.Unlock()

	for _, sess := range stale {
		sess.Close()
	}
	return len(stale)
}

type createSessionRequest struct {
	UserID int64 `json:"user_id"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
	Loaded    bool   `json:"loaded"`
}

type questionDTO struct {
	ID      int64    `json:"id"`
	Order   int      `json:"order"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

type submitRequest struct {
	Answers grader.Answers `json:"answers"`
}

type outcomeResponse struct {
	Outcome model.AggregateOutcome `json:"outcome"`
	Pushed  bool                   `json:"pushed"`
	Summary string                 `json:"summary"`
}

type statsResponse struct {
	Limit     int   `json:"executor_limit"`
	InFlight  int   `json:"in_flight"`
	Peak      int   `json:"peak"`
	Completed int64 `json:"completed"`
	Cached    int   `json:"cached_modules"`
	Sessions  int   `json:"sessions"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	n := len(h.sessions)
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, statsResponse{
		Limit:     h.exec.Limit(),
		InFlight:  h.exec.InFlight(),
		Peak:      h.exec.Peak(),
		Completed: h.exec.Completed(),
		Cached:    h.cache.Len(),
		Sessions:  n,
	})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		writeBadRequest(w, r)
		return
	}

	id := uuid.NewString()
	sess := sequencer.New(req.UserID, h.store, h.exec, h.cache, h.config)
	h.mu.Lock()
	h.sessions[id] = &entry{sess: sess, lastUsed: h.now()}
	h.mu.Unlock()
	slog.Info("session created", "session_id", id, "user_id", req.UserID)

	if err := sess.Bootstrap(r.Context()); err != nil {
		writeSessionError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: id, UserID: req.UserID, Loaded: true})
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	h.mu.Lock()
	e, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		writeSessionNotFound(w, r)
		return
	}
	e.sess.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.Bootstrap(r.Context()); err != nil {
		writeSessionError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, UserID: sess.UserID(), Loaded: sess.Loaded()})
}

func (h *Handler) handleModules(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	views, err := sess.Modules()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleSelectModule(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	moduleID, err := strconv.ParseInt(chi.URLParam(r, "moduleID"), 10, 64)
	if err != nil {
		writeBadRequest(w, r)
		return
	}
	view, err := sess.SelectModule(r.Context(), moduleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleVideoWatched(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := sess.OnVideoWatched(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleOpenQuiz(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	questions, err := sess.OpenQuiz()
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]questionDTO, len(questions))
	for i, q := range questions {
		out[i] = questionDTO{ID: q.ID, Order: q.Order, Prompt: q.Prompt, Options: q.Options}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSubmitQuiz(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r)
		return
	}
	result, err := sess.SubmitQuiz(r.Context(), req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleContinue(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	next, err := sess.ContinueToNext(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *Handler) handleOutcome(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if !sess.Loaded() {
		writeError(w, r, model.ErrNotLoaded)
		return
	}
	out := sess.CurrentAggregateOutcome()
	writeJSON(w, http.StatusOK, outcomeResponse{
		Outcome: out,
		Pushed:  sess.OutcomePushed(),
		Summary: i18n.Tp(r.Context(), "ModulesCompleted", out.ModulesCompleted),
	})
}

func (h *Handler) handlePushOutcome(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	out, err := sess.PushOutcome(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{
		Outcome: out,
		Pushed:  sess.OutcomePushed(),
		Summary: i18n.Tp(r.Context(), "ModulesCompleted", out.ModulesCompleted),
	})
}

// session looks up the session named in the URL and writes a 404 if there is none.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (string, *sequencer.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	h.mu.Lock()
	e, ok := h.sessions[id]
	if ok {
		e.lastUsed = h.now()
	}
	h.mu.Unlock()
	if !ok {
		writeSessionNotFound(w, r)
		return id, nil, false
	}
	return id, e.sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
