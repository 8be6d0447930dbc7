package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pavelanni/trainer/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCourse(t *testing.T, s *Store) []model.Module {
	t.Helper()
	_, err := s.ImportModules(context.Background(), []model.ModuleImport{
		{Order: 2, Title: "Hazards", VideoRef: "hazards.mp4", Questions: []model.QuestionImport{
			{Prompt: "First step?", Options: []string{"Run", "Report"}, Correct: 1},
			{Prompt: "PPE?", Options: []string{"Helmet", "Nothing"}, Correct: 0},
		}},
		{Order: 1, Title: "Welcome", VideoRef: "welcome.mp4", Description: "Intro"},
	})
	if err != nil {
		t.Fatalf("ImportModules: %v", err)
	}
	modules, err := s.ListModules(context.Background())
	if err != nil {
		t.Fatalf("ListModules: %v", err)
	}
	return modules
}

func intp(v int) *int { return &v }

func TestModulesOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.ModuleCount(ctx)
	if err != nil {
		t.Fatalf("ModuleCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 modules, got %d", count)
	}

	modules := seedCourse(t, s)
	if len(modules) != 2 {
		t.Fatalf("expected 2 modules, got %d", len(modules))
	}
	if modules[0].Title != "Welcome" || modules[1].Title != "Hazards" {
		t.Errorf("modules not ordered by position: %+v", modules)
	}
	if modules[0].Description != "Intro" {
		t.Errorf("expected description 'Intro', got %q", modules[0].Description)
	}
}

func TestQuestionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	modules := seedCourse(t, s)

	qs, err := s.ListQuestions(ctx, modules[1].ID)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(qs))
	}
	if qs[0].Prompt != "First step?" || qs[0].Order != 1 {
		t.Errorf("unexpected first question %+v", qs[0])
	}
	if len(qs[0].Options) != 2 || qs[0].Options[1] != "Report" || qs[0].CorrectOptionIndex != 1 {
		t.Errorf("options not decoded: %+v", qs[0])
	}

	empty, err := s.ListQuestions(ctx, modules[0].ID)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", empty)
	}

	id, err := s.InsertQuestion(ctx, model.Question{ModuleID: modules[0].ID, Order: 1, Prompt: "Ready?", Options: []string{"yes"}})
	if err != nil {
		t.Fatalf("InsertQuestion: %v", err)
	}
	if id == 0 {
		t.Error("expected question ID")
	}
}

func TestImportRejectsBadCorrectIndex(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ImportModules(context.Background(), []model.ModuleImport{
		{Order: 1, Title: "Bad", VideoRef: "x", Questions: []model.QuestionImport{
			{Prompt: "?", Options: []string{"a"}, Correct: 3},
		}},
	})
	if err == nil {
		t.Fatal("expected error for out-of-range correct option")
	}
	count, _ := s.ModuleCount(context.Background())
	if count != 0 {
		t.Fatalf("failed import must roll back, found %d modules", count)
	}
}

func TestProgressLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	modules := seedCourse(t, s)
	m := modules[1].ID

	recs, err := s.ListProgress(ctx, 5)
	if err != nil {
		t.Fatalf("ListProgress: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}

	if err := s.InsertProgress(ctx, model.ProgressRecord{UserID: 5, ModuleID: m}); err != nil {
		t.Fatalf("InsertProgress: %v", err)
	}
	if err := s.InsertProgress(ctx, model.ProgressRecord{UserID: 5, ModuleID: m}); err == nil {
		t.Fatal("expected duplicate insert to fail")
	}

	recs, _ = s.ListProgress(ctx, 5)
	if len(recs) != 1 || recs[0].Completed || recs[0].Score != nil || recs[0].Passed != nil {
		t.Fatalf("unexpected record after insert: %+v", recs)
	}
	if recs[0].UpdatedAt.IsZero() {
		t.Error("expected updated_at to be set")
	}

	if err := s.UpdateProgress(ctx, 5, m, model.ProgressFields{Completed: true, Score: intp(50)}); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	recs, _ = s.ListProgress(ctx, 5)
	if !recs[0].Completed || recs[0].Score == nil || *recs[0].Score != 50 {
		t.Fatalf("unexpected record after update: %+v", recs[0])
	}

	// Lower scores and cleared completion are ignored.
	if err := s.UpdateProgress(ctx, 5, m, model.ProgressFields{Completed: false, Score: intp(10)}); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	recs, _ = s.ListProgress(ctx, 5)
	if !recs[0].Completed || *recs[0].Score != 50 {
		t.Fatalf("record regressed: %+v", recs[0])
	}

	if err := s.UpdateProgress(ctx, 5, modules[0].ID, model.ProgressFields{Completed: true}); !errors.Is(err, model.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	// Other users are isolated.
	other, _ := s.ListProgress(ctx, 6)
	if len(other) != 0 {
		t.Fatalf("expected no records for user 6, got %d", len(other))
	}
}

func TestProfileOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.GetProfile(ctx, 9)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p != nil {
		t.Fatal("expected nil profile")
	}

	if err := s.UpsertProfile(ctx, 9, "Dana"); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if err := s.PushTrainingOutcome(ctx, 9, model.TrainingOutcome{Completed: true, Passed: true}); err != nil {
		t.Fatalf("PushTrainingOutcome: %v", err)
	}

	refreshed, err := s.RefreshUserProfile(ctx, 9)
	if err != nil {
		t.Fatalf("RefreshUserProfile: %v", err)
	}
	if refreshed.DisplayName != "Dana" || !refreshed.TrainingCompleted || !refreshed.TrainingPassed {
		t.Errorf("unexpected profile %+v", refreshed)
	}
	if refreshed.OutcomeAt == nil || refreshed.RefreshedAt == nil {
		t.Errorf("expected timestamps, got %+v", refreshed)
	}

	// Refresh creates a profile for an unknown user.
	fresh, err := s.RefreshUserProfile(ctx, 10)
	if err != nil {
		t.Fatalf("RefreshUserProfile: %v", err)
	}
	if fresh.UserID != 10 || fresh.TrainingCompleted {
		t.Errorf("unexpected new profile %+v", fresh)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := s.GetImportedFileHash(ctx, "modules.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash(ctx, "modules.json", "abc"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	if err := s.SetImportedFileHash(ctx, "modules.json", "def"); err != nil {
		t.Fatalf("SetImportedFileHash overwrite: %v", err)
	}
	hash, _ = s.GetImportedFileHash(ctx, "modules.json")
	if hash != "def" {
		t.Errorf("expected 'def', got %q", hash)
	}
}

func TestExportProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	modules := seedCourse(t, s)

	_ = s.InsertProgress(ctx, model.ProgressRecord{UserID: 3, ModuleID: modules[0].ID, Completed: true, Score: intp(100)})
	_ = s.InsertProgress(ctx, model.ProgressRecord{UserID: 3, ModuleID: modules[1].ID, Completed: true, Score: intp(50)})

	exp, err := s.ExportProgress(ctx, 3, 85)
	if err != nil {
		t.Fatalf("ExportProgress: %v", err)
	}
	if len(exp.Modules) != 2 {
		t.Fatalf("expected 2 module results, got %d", len(exp.Modules))
	}
	if exp.Modules[1].Questions != 2 || !exp.Modules[1].Completed || *exp.Modules[1].Score != 50 {
		t.Errorf("unexpected module result %+v", exp.Modules[1])
	}
	if !exp.Outcome.AllCompleted || exp.Outcome.AverageScore != 75 || exp.Outcome.Passed {
		t.Errorf("unexpected outcome %+v", exp.Outcome)
	}
	if exp.Profile != nil {
		t.Errorf("expected no profile, got %+v", exp.Profile)
	}
}
