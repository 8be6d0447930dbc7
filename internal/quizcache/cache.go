// Package quizcache holds the question set of each module for the lifetime of
// the process.
package quizcache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pavelanni/trainer/internal/executor"
	"github.com/pavelanni/trainer/internal/model"
	"github.com/pavelanni/trainer/internal/retry"
)

// QuestionSource loads the questions of a module, ordered by Order.
type QuestionSource interface {
	ListQuestions(ctx context.Context, moduleID int64) ([]model.Question, error)
}

// Cache is safe for concurrent use. Failed loads are not cached.
type Cache struct {
	src    QuestionSource
	exec   *executor.Executor
	policy retry.Policy

	mu    sync.RWMutex
	sets  map[int64][]model.Question
	group singleflight.Group
}

// New creates an empty Cache.
func New(src QuestionSource, exec *executor.Executor, policy retry.Policy) *Cache {
	return &Cache{
		src:    src,
		exec:   exec,
		policy: policy,
		sets:   make(map[int64][]model.Question),
	}
}

// Peek returns the cached set without loading.
func (c *Cache) Peek(moduleID int64) ([]model.Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	qs, ok := c.sets[moduleID]
	return qs, ok
}

// Len returns how many modules are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sets)
}

// Get returns the questions for moduleID, loading them on a miss. Concurrent
// misses for the same module share one load, which runs apart from any single
// caller's cancellation and is bounded by the retry policy and the executor's
// per-op timeout. A caller whose ctx ends stops waiting without failing the
// others. When every attempt fails the error is a *model.LoadFailedError.
func (c *Cache) Get(ctx context.Context, moduleID int64) ([]model.Question, error) {
	if qs, ok := c.Peek(moduleID); ok {
		return qs, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strconv.FormatInt(moduleID, 10), func() (any, error) {
		return c.load(loadCtx, moduleID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.Debug("question load shared", "module_id", moduleID)
		}
		return res.Val.([]model.Question), nil
	}
}

func (c *Cache) load(ctx context.Context, moduleID int64) ([]model.Question, error) {
	if qs, ok := c.Peek(moduleID); ok {
		return qs, nil
	}

	var qs []model.Question
	attempts, err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var err error
		qs, err = executor.Submit(ctx, c.exec, func(ctx context.Context) ([]model.Question, error) {
			return c.src.ListQuestions(ctx, moduleID)
		})
		return err
	})
	if err != nil {
		slog.Error("question load failed", "module_id", moduleID, "attempts", attempts, "error", err)
		return nil, &model.LoadFailedError{
			What:     fmt.Sprintf("questions for module %d", moduleID),
			Attempts: attempts,
			Err:      err,
		}
	}

	if qs == nil {
		qs = []model.Question{}
	}
	c.mu.Lock()
	c.sets[moduleID] = qs
	c.mu.Unlock()
	slog.Debug("questions cached", "module_id", moduleID, "count", len(qs), "attempts", attempts)
	return qs, nil
}
