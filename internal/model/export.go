package model

import "time"

// ProgressExport is the top-level JSON structure for a learner's progress export.
type ProgressExport struct {
	UserID     int64            `json:"user_id"`
	ExportedAt time.Time        `json:"exported_at"`
	Threshold  float64          `json:"pass_threshold"`
	Modules    []ModuleResult   `json:"modules"`
	Outcome    AggregateOutcome `json:"outcome"`
	Profile    *Profile         `json:"profile,omitempty"`
}

// ModuleResult holds per-module data for export.
type ModuleResult struct {
	ModuleID  int64      `json:"module_id"`
	Order     int        `json:"order"`
	Title     string     `json:"title"`
	Questions int        `json:"questions"`
	Completed bool       `json:"completed"`
	Score     *int       `json:"score,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
