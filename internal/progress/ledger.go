// Package progress mirrors a learner's progress records in memory and writes
// changes through to the external store.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pavelanni/trainer/internal/executor"
	"github.com/pavelanni/trainer/internal/model"
)

// Store is the progress side of the external record store.
type Store interface {
	ListProgress(ctx context.Context, userID int64) ([]model.ProgressRecord, error)
	InsertProgress(ctx context.Context, rec model.ProgressRecord) error
	UpdateProgress(ctx context.Context, userID, moduleID int64, fields model.ProgressFields) error
}

// Ledger holds the snapshot for one user. Writes either land in both the
// store and the snapshot or in neither.
type Ledger struct {
	userID int64
	store  Store
	exec   *executor.Executor
	now    func() time.Time

	mu      sync.RWMutex
	records map[int64]model.ProgressRecord
	loaded  bool
}

// NewLedger creates an empty, unloaded Ledger.
func NewLedger(userID int64, store Store, exec *executor.Executor) *Ledger {
	return &Ledger{
		userID:  userID,
		store:   store,
		exec:    exec,
		now:     time.Now,
		records: make(map[int64]model.ProgressRecord),
	}
}

// UserID returns the learner the ledger belongs to.
func (l *Ledger) UserID() int64 { return l.userID }

// Loaded reports whether Load has succeeded.
func (l *Ledger) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Load replaces the snapshot with the store's records in one bulk read.
// On failure the previous snapshot is kept.
func (l *Ledger) Load(ctx context.Context) error {
	recs, err := executor.Submit(ctx, l.exec, func(ctx context.Context) ([]model.ProgressRecord, error) {
		return l.store.ListProgress(ctx, l.userID)
	})
	if err != nil {
		return &model.LoadFailedError{What: fmt.Sprintf("progress for user %d", l.userID), Attempts: 1, Err: err}
	}

	next := make(map[int64]model.ProgressRecord, len(recs))
	for _, r := range recs {
		next[r.ModuleID] = r
	}

	l.mu.Lock()
	l.records = next
	l.loaded = true
	l.mu.Unlock()
	slog.Debug("progress loaded", "user_id", l.userID, "records", len(recs))
	return nil
}

// Get returns the record for moduleID.
func (l *Ledger) Get(moduleID int64) (model.ProgressRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[moduleID]
	return r, ok
}

// Completed reports whether moduleID has a completed record.
func (l *Ledger) Completed(moduleID int64) bool {
	r, ok := l.Get(moduleID)
	return ok && r.Completed
}

// Records returns a copy of the snapshot ordered by module ID.
func (l *Ledger) Records() []model.ProgressRecord {
	l.mu.RLock()
	out := make([]model.ProgressRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out
}

// Insert creates the record for moduleID. It is not retried.
func (l *Ledger) Insert(ctx context.Context, moduleID int64, fields model.ProgressFields) (model.ProgressRecord, error) {
	rec := model.ProgressRecord{
		UserID:    l.userID,
		ModuleID:  moduleID,
		Completed: fields.Completed,
		Score:     copyScore(fields.Score),
		UpdatedAt: l.now(),
	}
	err := l.exec.Do(ctx, func(ctx context.Context) error {
		return l.store.InsertProgress(ctx, rec)
	})
	if err != nil {
		slog.Error("progress insert failed", "user_id", l.userID, "module_id", moduleID, "error", err)
		return model.ProgressRecord{}, &model.WriteFailedError{Op: "insert", ModuleID: moduleID, Err: err}
	}

	l.mu.Lock()
	l.records[moduleID] = rec
	l.mu.Unlock()
	return rec, nil
}

// Update merges fields into the record for moduleID. Completed never goes
// back to false and a score is never lowered.
func (l *Ledger) Update(ctx context.Context, moduleID int64, fields model.ProgressFields) (model.ProgressRecord, error) {
	cur, ok := l.Get(moduleID)
	if !ok {
		return model.ProgressRecord{}, &model.WriteFailedError{Op: "update", ModuleID: moduleID, Err: model.ErrRecordNotFound}
	}

	merged := Merge(cur, fields)
	next := model.ProgressFields{Completed: merged.Completed, Score: merged.Score}
	err := l.exec.Do(ctx, func(ctx context.Context) error {
		return l.store.UpdateProgress(ctx, l.userID, moduleID, next)
	})
	if err != nil {
		slog.Error("progress update failed", "user_id", l.userID, "module_id", moduleID, "error", err)
		return model.ProgressRecord{}, &model.WriteFailedError{Op: "update", ModuleID: moduleID, Err: err}
	}

	merged.UpdatedAt = l.now()
	l.mu.Lock()
	l.records[moduleID] = merged
	l.mu.Unlock()
	return merged, nil
}

// Merge applies fields to cur under the monotonic rules.
func Merge(cur model.ProgressRecord, fields model.ProgressFields) model.ProgressRecord {
	out := cur
	out.Score = copyScore(cur.Score)
	out.Completed = cur.Completed || fields.Completed
	if fields.Score != nil && (cur.Score == nil || *fields.Score > *cur.Score) {
		out.Score = copyScore(fields.Score)
	}
	return out
}

func copyScore(s *int) *int {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
