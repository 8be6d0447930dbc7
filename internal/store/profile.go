package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/pavelanni/trainer/internal/model"
)

// UpsertProfile creates or renames a learner profile.
func (s *Store) UpsertProfile(ctx context.Context, userID int64, displayName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, display_name) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET display_name = ?`,
		userID, displayName, displayName,
	)
	if err != nil {
		slog.Error("failed to upsert profile", "user_id", userID, "error", err)
		return err
	}
	return nil
}

// GetProfile returns the profile for userID, or nil if there is none.
func (s *Store) GetProfile(ctx context.Context, userID int64) (*model.Profile, error) {
	var p model.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, display_name, training_completed, training_passed, outcome_at, refreshed_at
		 FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.TrainingCompleted, &p.TrainingPassed, &p.OutcomeAt, &p.RefreshedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PushTrainingOutcome records the final training verdict on the profile.
func (s *Store) PushTrainingOutcome(ctx context.Context, userID int64, outcome model.TrainingOutcome) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, training_completed, training_passed, outcome_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET training_completed = ?, training_passed = ?, outcome_at = ?`,
		userID, outcome.Completed, outcome.Passed, now,
		outcome.Completed, outcome.Passed, now,
	)
	if err != nil {
		return err
	}
	slog.Info("recorded training outcome", "user_id", userID, "completed", outcome.Completed, "passed", outcome.Passed)
	return nil
}

// RefreshUserProfile stamps refreshed_at and returns the current profile,
// creating an empty one if needed.
func (s *Store) RefreshUserProfile(ctx context.Context, userID int64) (model.Profile, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, refreshed_at) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET refreshed_at = ?`,
		userID, time.Now(), time.Now(),
	)
	if err != nil {
		return model.Profile{}, err
	}
	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		return model.Profile{}, err
	}
	if p == nil {
		return model.Profile{UserID: userID}, nil
	}
	return *p, nil
}
