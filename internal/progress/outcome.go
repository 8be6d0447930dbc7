package progress

import (
	"github.com/pavelanni/trainer/internal/model"
)

// Aggregate derives the outcome over modules from records. Records for
// modules not in the list are ignored. The pass verdict uses threshold.
func Aggregate(modules []model.Module, records []model.ProgressRecord, threshold float64) model.AggregateOutcome {
	known := make(map[int64]bool, len(modules))
	for _, m := range modules {
		known[m.ID] = true
	}

	out := model.AggregateOutcome{TotalModules: len(modules)}
	var sum, scored int
	for _, r := range records {
		if !known[r.ModuleID] {
			continue
		}
		if r.Completed {
			out.ModulesCompleted++
		}
		if r.Score != nil {
			sum += *r.Score
			scored++
		}
	}
	if scored > 0 {
		out.AverageScore = float64(sum) / float64(scored)
	}
	out.AllCompleted = out.TotalModules > 0 && out.ModulesCompleted == out.TotalModules
	out.Passed = out.AllCompleted && out.AverageScore >= threshold
	return out
}
