package model

import (
	"time"
)

// Module is one unit of instructional content. Modules are seeded out-of-band
// and never modified by the engine.
type Module struct {
	ID          int64  `json:"id"`
	Order       int    `json:"order"`
	Title       string `json:"title"`
	VideoRef    string `json:"video_ref"`
	Description string `json:"description,omitempty"`
}

// Question belongs to exactly one module.
type Question struct {
	ID                 int64    `json:"id"`
	ModuleID           int64    `json:"module_id"`
	Order              int      `json:"order"`
	Prompt             string   `json:"prompt"`
	Options            []string `json:"options"`
	CorrectOptionIndex int      `json:"correct_option_index"`
}

// ProgressRecord is one learner's state for one module.
// Passed is carried for the store schema but the aggregate never reads it.
type ProgressRecord struct {
	UserID    int64     `json:"user_id"`
	ModuleID  int64     `json:"module_id"`
	Completed bool      `json:"completed"`
	Score     *int      `json:"score,omitempty"`
	Passed    *bool     `json:"passed,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressFields are the mutable fields of an update.
type ProgressFields struct {
	Completed bool
	Score     *int
}

// AggregateOutcome is derived from the progress records of one user.
type AggregateOutcome struct {
	ModulesCompleted int     `json:"modules_completed"`
	TotalModules     int     `json:"total_modules"`
	AverageScore     float64 `json:"average_score"`
	AllCompleted     bool    `json:"all_completed"`
	// Passed is meaningful only when AllCompleted is true.
	Passed bool `json:"passed"`
}

// TrainingOutcome is pushed to the profile collaborator once all modules are done.
type TrainingOutcome struct {
	Completed bool `json:"completed"`
	Passed    bool `json:"passed"`
}

// Profile is the external learner profile. Opaque to the engine apart from
// being refreshed.
type Profile struct {
	UserID            int64      `json:"user_id"`
	DisplayName       string     `json:"display_name"`
	TrainingCompleted bool       `json:"training_completed"`
	TrainingPassed    bool       `json:"training_passed"`
	OutcomeAt         *time.Time `json:"outcome_at,omitempty"`
	RefreshedAt       *time.Time `json:"refreshed_at,omitempty"`
}

// ModuleState is a module's position in the per-module state machine.
type ModuleState string

const (
	StateLocked         ModuleState = "locked"
	StateUnlocked       ModuleState = "unlocked"
	StateVideoPending   ModuleState = "video_pending"
	StateQuizPending    ModuleState = "quiz_pending"
	StateQuizInProgress ModuleState = "quiz_in_progress"
	StateCompleted      ModuleState = "completed"
)

// ModuleView is what the presentation layer gets back for a module.
type ModuleView struct {
	Module        Module      `json:"module"`
	State         ModuleState `json:"state"`
	Review        bool        `json:"review"`
	Score         *int        `json:"score,omitempty"`
	QuestionCount int         `json:"question_count"`
}

// NextResult is returned by a continue action. View is nil when the session
// has run out of modules.
type NextResult struct {
	View            *ModuleView `json:"view,omitempty"`
	SessionComplete bool        `json:"session_complete"`
}

// QuizResult is returned after a quiz is graded.
type QuizResult struct {
	Score   int              `json:"score"`
	Outcome AggregateOutcome `json:"outcome"`
}

// EngineConfig holds runtime engine parameters set via CLI flags.
type EngineConfig struct {
	ExecutorLimit   int
	OpTimeout       time.Duration // 0 disables the per-operation deadline
	RetryBase       time.Duration
	RetryCap        time.Duration
	RetryAttempts   int
	RefreshCooldown time.Duration
	PassThreshold   float64
	SessionIdle     time.Duration // sessions unused this long are closed; 0 keeps them until deleted
}

// DefaultEngineConfig returns the values observed in production.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ExecutorLimit:   2,
		OpTimeout:       30 * time.Second,
		RetryBase:       time.Second,
		RetryCap:        5 * time.Second,
		RetryAttempts:   3,
		RefreshCooldown: 2 * time.Second,
		PassThreshold:   85,
		SessionIdle:     30 * time.Minute,
	}
}

// QuestionImport is used for loading questions from JSON or YAML.
type QuestionImport struct {
	Prompt  string   `json:"prompt" yaml:"prompt"`
	Options []string `json:"options" yaml:"options"`
	Correct int      `json:"correct" yaml:"correct"`
}

// ModuleImport is used for loading modules from JSON or YAML.
type ModuleImport struct {
	Order       int              `json:"order" yaml:"order"`
	Title       string           `json:"title" yaml:"title"`
	VideoRef    string           `json:"video_ref" yaml:"video_ref"`
	Description string           `json:"description" yaml:"description"`
	Questions   []QuestionImport `json:"questions" yaml:"questions"`
}
