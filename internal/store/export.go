package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/trainer/internal/model"
	"github.com/pavelanni/trainer/internal/progress"
)

// ImportModules inserts modules and their questions in one transaction.
func (s *Store) ImportModules(ctx context.Context, modules []model.ModuleImport) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	questions := 0
	for _, mi := range modules {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO modules (position, title, video_ref, description) VALUES (?, ?, ?, ?)`,
			mi.Order, mi.Title, mi.VideoRef, mi.Description,
		)
		if err != nil {
			return 0, fmt.Errorf("insert module %q: %w", mi.Title, err)
		}
		moduleID, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		for i, qi := range mi.Questions {
			if qi.Correct < 0 || qi.Correct >= len(qi.Options) {
				return 0, fmt.Errorf("module %q question %d: correct option %d out of range", mi.Title, i+1, qi.Correct)
			}
			opts, err := json.Marshal(qi.Options)
			if err != nil {
				return 0, err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO questions (module_id, position, prompt, options, correct_option) VALUES (?, ?, ?, ?, ?)`,
				moduleID, i+1, qi.Prompt, string(opts), qi.Correct,
			)
			if err != nil {
				return 0, fmt.Errorf("insert question for module %q: %w", mi.Title, err)
			}
			questions++
		}
	}

	return questions, tx.Commit()
}

// ExportProgress builds an export of one user's progress over all modules.
func (s *Store) ExportProgress(ctx context.Context, userID int64, threshold float64) (model.ProgressExport, error) {
	modules, err := s.ListModules(ctx)
	if err != nil {
		return model.ProgressExport{}, fmt.Errorf("list modules: %w", err)
	}
	recs, err := s.ListProgress(ctx, userID)
	if err != nil {
		return model.ProgressExport{}, fmt.Errorf("list progress: %w", err)
	}
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return model.ProgressExport{}, fmt.Errorf("get profile %d: %w", userID, err)
	}

	byModule := make(map[int64]model.ProgressRecord, len(recs))
	for _, r := range recs {
		byModule[r.ModuleID] = r
	}

	var results []model.ModuleResult
	for _, m := range modules {
		qs, err := s.ListQuestions(ctx, m.ID)
		if err != nil {
			return model.ProgressExport{}, fmt.Errorf("list questions of module %d: %w", m.ID, err)
		}
		mr := model.ModuleResult{
			ModuleID:  m.ID,
			Order:     m.Order,
			Title:     m.Title,
			Questions: len(qs),
		}
		if r, ok := byModule[m.ID]; ok {
			updated := r.UpdatedAt
			mr.Completed = r.Completed
			mr.Score = r.Score
			mr.UpdatedAt = &updated
		}
		results = append(results, mr)
	}

	return model.ProgressExport{
		UserID:     userID,
		ExportedAt: time.Now().UTC(),
		Threshold:  threshold,
		Modules:    results,
		Outcome:    progress.Aggregate(modules, recs, threshold),
		Profile:    profile,
	}, nil
}
