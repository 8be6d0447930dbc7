// Package sequencer drives one learner through the ordered training modules.
//
// A Session owns all engine state for its learner: the loaded module list,
// the progress snapshot, the active module and its state, and whether the
// final outcome has been pushed. Operations on a Session are serialised; each
// one waits for its store calls to resolve before applying a transition, so a
// failed call leaves the session exactly as it was.
package sequencer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/trainer/internal/executor"
	"github.com/pavelanni/trainer/internal/grader"
	"github.com/pavelanni/trainer/internal/model"
	"github.com/pavelanni/trainer/internal/progress"
	"github.com/pavelanni/trainer/internal/throttle"
)

// Store is every collaborator operation a session calls.
type Store interface {
	progress.Store
	ListModules(ctx context.Context) ([]model.Module, error)
	PushTrainingOutcome(ctx context.Context, userID int64, outcome model.TrainingOutcome) error
	RefreshUserProfile(ctx context.Context, userID int64) (model.Profile, error)
}

// Questions is the question cache as seen by a session.
type Questions interface {
	Get(ctx context.Context, moduleID int64) ([]model.Question, error)
	Peek(moduleID int64) ([]model.Question, bool)
}

type loadState int32

const (
	loadIdle loadState = iota
	loadLoading
	loadReady
)

// Session is the module state machine for one learner.
type Session struct {
	userID    int64
	store     Store
	exec      *executor.Executor
	questions Questions
	ledger    *progress.Ledger
	refresh   *throttle.Throttle
	threshold float64

	load atomic.Int32

	mu            sync.Mutex
	modules       []model.Module
	current       int // index into modules, -1 when nothing is selected
	state         model.ModuleState
	review        bool
	active        []model.Question
	outcomePushed bool
}

// New creates an unloaded session. Call Bootstrap before anything else.
func New(userID int64, store Store, exec *executor.Executor, questions Questions, cfg model.EngineConfig) *Session {
	s := &Session{
		userID:    userID,
		store:     store,
		exec:      exec,
		questions: questions,
		ledger:    progress.NewLedger(userID, store, exec),
		threshold: cfg.PassThreshold,
		current:   -1,
	}
	s.refresh = throttle.New(cfg.RefreshCooldown, s.refreshProfile)
	return s
}

// UserID returns the learner this session belongs to.
func (s *Session) UserID() int64 { return s.userID }

// Loaded reports whether Bootstrap has completed.
func (s *Session) Loaded() bool { return loadState(s.load.Load()) == loadReady }

// Bootstrap loads modules and progress. A call made while another bootstrap
// is running, or after one succeeded, does nothing. On failure the session
// returns to idle so the caller can try again.
func (s *Session) Bootstrap(ctx context.Context) error {
	if !s.load.CompareAndSwap(int32(loadIdle), int32(loadLoading)) {
		slog.Debug("bootstrap skipped", "user_id", s.userID, "state", s.load.Load())
		return nil
	}

	var modules []model.Module
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		modules, err = executor.Submit(gctx, s.exec, func(ctx context.Context) ([]model.Module, error) {
			return s.store.ListModules(ctx)
		})
		if err != nil {
			return &model.LoadFailedError{What: "modules", Attempts: 1, Err: err}
		}
		return nil
	})
	g.Go(func() error {
		return s.ledger.Load(gctx)
	})
	if err := g.Wait(); err != nil {
		s.load.Store(int32(loadIdle))
		return err
	}
	if len(modules) == 0 {
		s.load.Store(int32(loadIdle))
		return model.ErrNoModules
	}

	sort.SliceStable(modules, func(i, j int) bool { return modules[i].Order < modules[j].Order })

	s.mu.Lock()
	s.modules = modules
	s.current = -1
	s.state = ""
	s.review = false
	s.active = nil
	s.mu.Unlock()

	s.load.Store(int32(loadReady))
	slog.Info("session loaded", "user_id", s.userID, "modules", len(modules), "records", len(s.ledger.Records()))
	return nil
}

// Modules returns every module with its derived state.
func (s *Session) Modules() ([]model.ModuleView, error) {
	if !s.Loaded() {
		return nil, model.ErrNotLoaded
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]model.ModuleView, len(s.modules))
	for i := range s.modules {
		views[i] = s.viewLocked(i)
	}
	return views, nil
}

// Current returns the active module, if any.
func (s *Session) Current() (model.ModuleView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < 0 {
		return model.ModuleView{}, false
	}
	return s.viewLocked(s.current), true
}

// SelectModule makes moduleID the active module. A completed module is
// opened for review. Selecting a module whose predecessor is not completed
// returns a *model.ModuleLockedError. A module without questions is left in
// VideoPending too; it completes on OnVideoWatched, not on selection.
func (s *Session) SelectModule(ctx context.Context, moduleID int64) (model.ModuleView, error) {
	if !s.Loaded() {
		return model.ModuleView{}, model.ErrNotLoaded
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(moduleID)
	if idx < 0 {
		return model.ModuleView{}, fmt.Errorf("module %d: %w", moduleID, model.ErrModuleNotFound)
	}
	return s.selectLocked(ctx, idx)
}

// OnVideoWatched records that the active module's video finished. A module
// without questions is completed with a score of 100; otherwise its quiz
// becomes available.
func (s *Session) OnVideoWatched(ctx context.Context) (model.ModuleView, error) {
	if !s.Loaded() {
		return model.ModuleView{}, model.ErrNotLoaded
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < 0 {
		return model.ModuleView{}, model.ErrNoActiveModule
	}
	switch s.state {
	case model.StateVideoPending:
	case model.StateQuizPending, model.StateQuizInProgress:
		return s.viewLocked(s.current), nil
	default:
		return model.ModuleView{}, fmt.Errorf("video watched in state %s: %w", s.state, model.ErrInvalidTransition)
	}

	mod := s.modules[s.current]
	_, exists := s.ledger.Get(mod.ID)

	if len(s.active) == 0 {
		full := 100
		fields := model.ProgressFields{Completed: true, Score: &full}
		var err error
		if exists {
			_, err = s.ledger.Update(ctx, mod.ID, fields)
		} else {
			_, err = s.ledger.Insert(ctx, mod.ID, fields)
		}
		if err != nil {
			return model.ModuleView{}, err
		}
		s.transitionLocked(model.StateCompleted)
		slog.Info("module auto-completed", "user_id", s.userID, "module_id", mod.ID, "score", full)
		if _, err := s.afterCompletionLocked(ctx); err != nil {
			return s.viewLocked(s.current), err
		}
		return s.viewLocked(s.current), nil
	}

	if !exists {
		if _, err := s.ledger.Insert(ctx, mod.ID, model.ProgressFields{}); err != nil {
			return model.ModuleView{}, err
		}
	}
	s.transitionLocked(model.StateQuizPending)
	return s.viewLocked(s.current), nil
}

// OpenQuiz starts the active module's quiz and returns its questions.
func (s *Session) OpenQuiz() ([]model.Question, error) {
	if !s.Loaded() {
		return nil, model.ErrNotLoaded
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < 0 {
		return nil, model.ErrNoActiveModule
	}
	if s.state != model.StateQuizPending && s.state != model.StateQuizInProgress {
		return nil, fmt.Errorf("open quiz in state %s: %w", s.state, model.ErrInvalidTransition)
	}
	s.transitionLocked(model.StateQuizInProgress)
	return append([]model.Question(nil), s.active...), nil
}

// SubmitQuiz grades answers for the active module and completes it. A quiz
// that was not opened explicitly is opened first.
func (s *Session) SubmitQuiz(ctx context.Context, answers grader.Answers) (model.QuizResult, error) {
	if !s.Loaded() {
		return model.QuizResult{}, model.ErrNotLoaded
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < 0 {
		return model.QuizResult{}, model.ErrNoActiveModule
	}
	if s.state != model.StateQuizPending && s.state != model.StateQuizInProgress {
		return model.QuizResult{}, fmt.Errorf("submit quiz in state %s: %w", s.state, model.ErrInvalidTransition)
	}

	mod := s.modules[s.current]
	score := grader.Grade(s.active, answers)
	fields := model.ProgressFields{Completed: true, Score: &score}

	var err error
	if _, ok := s.ledger.Get(mod.ID); ok {
		_, err = s.ledger.Update(ctx, mod.ID, fields)
	} else {
		_, err = s.ledger.Insert(ctx, mod.ID, fields)
	}
	if err != nil {
		return model.QuizResult{}, err
	}

	s.transitionLocked(model.StateCompleted)
	slog.Info("quiz graded", "user_id", s.userID, "module_id", mod.ID, "score", score)

	outcome, err := s.afterCompletionLocked(ctx)
	return model.QuizResult{Score: score, Outcome: outcome}, err
}

// ContinueToNext moves from a completed module to the next one by order.
// When there is none, or the training is complete, the session is over.
func (s *Session) ContinueToNext(ctx context.Context) (model.NextResult, error) {
	if !s.Loaded() {
		return model.NextResult{}, model.ErrNotLoaded
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < 0 {
		return model.NextResult{}, model.ErrNoActiveModule
	}
	if s.state != model.StateCompleted {
		return model.NextResult{}, fmt.Errorf("continue in state %s: %w", s.state, model.ErrInvalidTransition)
	}

	next := s.current + 1
	if next >= len(s.modules) || s.aggregateLocked().AllCompleted {
		slog.Info("session complete", "user_id", s.userID)
		return model.NextResult{SessionComplete: true}, nil
	}

	view, err := s.selectLocked(ctx, next)
	if err != nil {
		return model.NextResult{}, err
	}
	return model.NextResult{View: &view}, nil
}

// CurrentAggregateOutcome returns the outcome over the current snapshot.
func (s *Session) CurrentAggregateOutcome() model.AggregateOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregateLocked()
}

// PushOutcome retries a failed final outcome push. It does nothing when the
// outcome was already pushed this session.
func (s *Session) PushOutcome(ctx context.Context) (model.AggregateOutcome, error) {
	if !s.Loaded() {
		return model.AggregateOutcome{}, model.ErrNotLoaded
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.aggregateLocked()
	if !out.AllCompleted {
		return out, model.ErrOutcomeNotReady
	}
	if s.outcomePushed {
		return out, nil
	}
	return out, s.pushLocked(ctx, out)
}

// OutcomePushed reports whether this session has pushed the final outcome.
func (s *Session) OutcomePushed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomePushed
}

// Records returns the progress snapshot.
func (s *Session) Records() []model.ProgressRecord { return s.ledger.Records() }

// Close stops pending profile refreshes and waits for running ones.
func (s *Session) Close() {
	s.refresh.Close()
	s.refresh.Wait()
}

func (s *Session) selectLocked(ctx context.Context, idx int) (model.ModuleView, error) {
	mod := s.modules[idx]
	if !s.unlockedLocked(idx) {
		return model.ModuleView{}, &model.ModuleLockedError{ModuleID: mod.ID, RequiredModuleID: s.modules[idx-1].ID}
	}

	qs, err := s.questions.Get(ctx, mod.ID)
	if err != nil {
		return model.ModuleView{}, err
	}

	s.current = idx
	s.active = qs
	s.review = s.ledger.Completed(mod.ID)
	if s.review {
		s.transitionLocked(model.StateCompleted)
	} else {
		s.transitionLocked(model.StateVideoPending)
	}
	return s.viewLocked(idx), nil
}

func (s *Session) afterCompletionLocked(ctx context.Context) (model.AggregateOutcome, error) {
	out := s.aggregateLocked()
	slog.Debug("aggregate recomputed", "user_id", s.userID,
		"completed", out.ModulesCompleted, "total", out.TotalModules, "average", out.AverageScore)
	if !out.AllCompleted || s.outcomePushed {
		return out, nil
	}
	return out, s.pushLocked(ctx, out)
}

func (s *Session) pushLocked(ctx context.Context, out model.AggregateOutcome) error {
	outcome := model.TrainingOutcome{Completed: true, Passed: out.Passed}
	err := s.exec.Do(ctx, func(ctx context.Context) error {
		return s.store.PushTrainingOutcome(ctx, s.userID, outcome)
	})
	if err != nil {
		slog.Error("training outcome push failed", "user_id", s.userID, "error", err)
		var moduleID int64
		if s.current >= 0 {
			moduleID = s.modules[s.current].ID
		}
		return &model.WriteFailedError{Op: "push outcome", ModuleID: moduleID, Err: err}
	}
	s.outcomePushed = true
	slog.Info("training outcome pushed", "user_id", s.userID, "passed", out.Passed, "average", out.AverageScore)

	d := s.refresh.Request(ctx)
	slog.Debug("profile refresh requested", "user_id", s.userID, "decision", d.String())
	return nil
}

func (s *Session) refreshProfile(ctx context.Context) error {
	return s.exec.Do(ctx, func(ctx context.Context) error {
		p, err := s.store.RefreshUserProfile(ctx, s.userID)
		if err != nil {
			return fmt.Errorf("refresh profile for user %d: %w", s.userID, err)
		}
		slog.Debug("profile refreshed", "user_id", p.UserID, "completed", p.TrainingCompleted, "passed", p.TrainingPassed)
		return nil
	})
}

func (s *Session) transitionLocked(next model.ModuleState) {
	if s.current >= 0 {
		slog.Debug("module transition", "user_id", s.userID, "module_id", s.modules[s.current].ID,
			"from", s.state, "to", next)
	}
	s.state = next
}

func (s *Session) indexLocked(moduleID int64) int {
	for i, m := range s.modules {
		if m.ID == moduleID {
			return i
		}
	}
	return -1
}

func (s *Session) unlockedLocked(idx int) bool {
	return idx == 0 || s.ledger.Completed(s.modules[idx-1].ID)
}

func (s *Session) viewLocked(idx int) model.ModuleView {
	mod := s.modules[idx]
	v := model.ModuleView{Module: mod}

	rec, ok := s.ledger.Get(mod.ID)
	if ok {
		v.Score = rec.Score
	}
	if qs, ok := s.questions.Peek(mod.ID); ok {
		v.QuestionCount = len(qs)
	}

	switch {
	case idx == s.current:
		v.State = s.state
		v.Review = s.review
	case ok && rec.Completed:
		v.State = model.StateCompleted
	case s.unlockedLocked(idx):
		v.State = model.StateUnlocked
	default:
		v.State = model.StateLocked
	}
	return v
}

func (s *Session) aggregateLocked() model.AggregateOutcome {
	return progress.Aggregate(s.modules, s.ledger.Records(), s.threshold)
}
