package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/trainer/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath
	if strings.HasPrefix(dbPath, ":memory:") {
		dsn = ":memory:"
	} else {
		dsn = "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS modules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position INTEGER NOT NULL UNIQUE,
		title TEXT NOT NULL,
		video_ref TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		module_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_option INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (module_id) REFERENCES modules(id)
	);

	CREATE TABLE IF NOT EXISTS progress (
		user_id INTEGER NOT NULL,
		module_id INTEGER NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		score INTEGER,
		passed INTEGER,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, module_id),
		FOREIGN KEY (module_id) REFERENCES modules(id)
	);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id INTEGER PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		training_completed INTEGER NOT NULL DEFAULT 0,
		training_passed INTEGER NOT NULL DEFAULT 0,
		outcome_at DATETIME,
		refreshed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertModule stores a module.
func (s *Store) InsertModule(ctx context.Context, m model.Module) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO modules (position, title, video_ref, description) VALUES (?, ?, ?, ?)`,
		m.Order, m.Title, m.VideoRef, m.Description,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListModules returns all modules ordered by position.
func (s *Store) ListModules(ctx context.Context) ([]model.Module, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, position, title, video_ref, description FROM modules ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var modules []model.Module
	for rows.Next() {
		var m model.Module
		if err := rows.Scan(&m.ID, &m.Order, &m.Title, &m.VideoRef, &m.Description); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// ModuleCount returns the number of modules in the database.
func (s *Store) ModuleCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM modules`).Scan(&count)
	return count, err
}

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return 0, fmt.Errorf("encode options: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (module_id, position, prompt, options, correct_option) VALUES (?, ?, ?, ?, ?)`,
		q.ModuleID, q.Order, q.Prompt, string(opts), q.CorrectOptionIndex,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListQuestions returns the questions of a module ordered by position.
func (s *Store) ListQuestions(ctx context.Context, moduleID int64) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, module_id, position, prompt, options, correct_option
		 FROM questions WHERE module_id = ? ORDER BY position, id`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	questions := []model.Question{}
	for rows.Next() {
		var q model.Question
		var opts string
		if err := rows.Scan(&q.ID, &q.ModuleID, &q.Order, &q.Prompt, &opts, &q.CorrectOptionIndex); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of question %d: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListProgress returns all progress records of a user.
func (s *Store) ListProgress(ctx context.Context, userID int64) ([]model.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, module_id, completed, score, passed, updated_at
		 FROM progress WHERE user_id = ? ORDER BY module_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []model.ProgressRecord
	for rows.Next() {
		var r model.ProgressRecord
		var score sql.NullInt64
		var passed sql.NullBool
		if err := rows.Scan(&r.UserID, &r.ModuleID, &r.Completed, &score, &passed, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if score.Valid {
			v := int(score.Int64)
			r.Score = &v
		}
		if passed.Valid {
			v := passed.Bool
			r.Passed = &v
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// InsertProgress creates a progress record. It fails if one already exists.
func (s *Store) InsertProgress(ctx context.Context, rec model.ProgressRecord) error {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress (user_id, module_id, completed, score, passed, updated_at) VALUES (?, ?, ?, ?, NULL, ?)`,
		rec.UserID, rec.ModuleID, rec.Completed, nullableInt(rec.Score), updated,
	)
	return err
}

// UpdateProgress sets completed and score on an existing record. Completed
// is never cleared and a lower score never replaces a higher one.
func (s *Store) UpdateProgress(ctx context.Context, userID, moduleID int64, fields model.ProgressFields) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE progress
		 SET completed = MAX(completed, ?),
		     score = CASE WHEN ? IS NULL THEN score
		                  WHEN score IS NULL OR score < ? THEN ?
		                  ELSE score END,
		     updated_at = ?
		 WHERE user_id = ? AND module_id = ?`,
		fields.Completed, nullableInt(fields.Score), nullableInt(fields.Score), nullableInt(fields.Score),
		time.Now(), userID, moduleID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrRecordNotFound
	}
	return nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
