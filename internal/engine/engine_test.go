package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/verity/internal/archive"
	"github.com/randalmurphal/verity/internal/config"
	"github.com/randalmurphal/verity/internal/db"
	"github.com/randalmurphal/verity/internal/document"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/events"
	"github.com/randalmurphal/verity/internal/review"
	"github.com/randalmurphal/verity/internal/status"
	"github.com/randalmurphal/verity/internal/telemetry"
)

// harness is an engine over a fresh database holding one project:
// phase FAT (T1, T2) then phase SAT (T1), equipment PUMP.
type harness struct {
	*Engine
	db      *db.DB
	archive *archive.Memory
	pub     *events.MemoryPublisher
	metrics *telemetry.Metrics
	tree    *Tree
}

func newHarness(t *testing.T, reviewers ...string) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		db:      db.NewTestDB(t),
		archive: archive.NewMemory(),
		pub:     events.NewMemoryPublisher(),
		metrics: telemetry.NewMetrics(),
	}
	t.Cleanup(h.pub.Close)

	cfg := config.Default()
	cfg.Engine.InitialInterval = time.Millisecond
	eng, err := New(h.db, cfg,
		WithArchive(h.archive),
		WithPublisher(h.pub),
		WithMetrics(h.metrics),
	)
	require.NoError(t, err)
	h.Engine = eng

	require.NoError(t, eng.SeedTemplates(ctx, []db.PhaseTemplate{
		{Code: "FAT", Name: "Factory acceptance", OrderIndex: 1, Tasks: []db.TaskTemplate{
			{Code: "T1", Name: "Inspection", OrderIndex: 1},
			{Code: "T2", Name: "Function test", OrderIndex: 2},
		}},
		{Code: "SAT", Name: "Site acceptance", OrderIndex: 2, Tasks: []db.TaskTemplate{
			{Code: "T1", Name: "Commissioning", OrderIndex: 1},
		}},
		{Code: "IQ", Name: "Installation qualification", OrderIndex: 3, Tasks: []db.TaskTemplate{
			{Code: "T1", Name: "Checklist", OrderIndex: 1},
		}},
	}))

	h.tree, err = eng.CreateProject(ctx, ProjectRequest{
		Name:          "Pump 7",
		EquipmentCode: "PUMP",
		PhaseCodes:    []string{"SAT", "FAT"},
		CreatedBy:     "admin",
	})
	require.NoError(t, err)

	for _, ph := range h.tree.Phases {
		for _, task := range ph.Tasks {
			for _, r := range reviewers {
				require.NoError(t, eng.AssignReviewer(ctx, task.ID, r))
			}
		}
	}
	return h
}

// task returns the id of the task with the given "PHASE/TASK" key.
func (h *harness) task(t *testing.T, key string) int64 {
	t.Helper()
	for _, ph := range h.tree.Phases {
		for _, task := range ph.Tasks {
			if ph.Code+"/"+task.Code == key {
				return task.ID
			}
		}
	}
	t.Fatalf("no task %s", key)
	return 0
}

func (h *harness) reload(t *testing.T, key string) *db.Task {
	t.Helper()
	return db.ReloadTask(t, h.db, h.task(t, key))
}

func (h *harness) setRole(t *testing.T, userID, role string) {
	t.Helper()
	require.NoError(t, h.SetActiveRole(context.Background(), userID, role))
}

func codeOf(err error) verrors.Code {
	if ve := verrors.AsVerityError(err); ve != nil {
		return ve.Code
	}
	return ""
}

func TestCreateProjectMaterializesTemplates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.Len(t, h.tree.Phases, 2, "only the requested phases are created")
	fat, sat := h.tree.Phases[0], h.tree.Phases[1]
	assert.Equal(t, "FAT", fat.Code, "phases follow template order, not request order")
	assert.Equal(t, status.PhaseActive, fat.Status)
	assert.NotNil(t, fat.ActivatedAt)
	assert.Equal(t, status.PhasePending, sat.Status)

	require.Len(t, fat.Tasks, 2)
	assert.Equal(t, status.TaskActive, fat.Tasks[0].Status)
	assert.Equal(t, status.TaskPending, fat.Tasks[1].Status)
	assert.Equal(t, status.TaskPending, sat.Tasks[0].Status)
	assert.Equal(t, status.ProjectActive, h.tree.Project.Status)
}

func TestTemplateDefaultRequiredCount(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.SeedTemplates(ctx, []db.PhaseTemplate{
		{Code: "PQ", Name: "Performance qualification", OrderIndex: 4, Tasks: []db.TaskTemplate{
			{Code: "T1", Name: "Witnessed run", OrderIndex: 1, DefaultRequiredCount: 2},
		}},
	}))
	tree, err := h.CreateProject(ctx, ProjectRequest{
		Name: "Pump 8", EquipmentCode: "PUMP", PhaseCodes: []string{"PQ"}, CreatedBy: "admin",
	})
	require.NoError(t, err)
	task := tree.Phases[0].Tasks[0]
	assert.Equal(t, 2, task.RequiredCount)

	// A single reviewer cannot sign off a task that needs two.
	require.NoError(t, h.AssignReviewer(ctx, task.ID, "alice"))
	res, err := h.SubmitDocument(ctx, task.ID, "{}", "completed", "alice")
	require.NoError(t, err)
	assert.Equal(t, review.StateWaiting, res.CompletionState)
	assert.Equal(t, 2, res.RequiredCount)

	require.NoError(t, h.AssignReviewer(ctx, task.ID, "bob"))
	res, err = h.SubmitDocument(ctx, task.ID, "{}", "completed", "bob")
	require.NoError(t, err)
	assert.Equal(t, review.StateCompleted, res.CompletionState)
}

func TestCreateProjectValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ProjectRequest
	}{
		{"missing name", ProjectRequest{EquipmentCode: "PUMP", PhaseCodes: []string{"FAT"}}},
		{"missing equipment", ProjectRequest{Name: "x", PhaseCodes: []string{"FAT"}}},
		{"no phases", ProjectRequest{Name: "x", EquipmentCode: "PUMP"}},
		{"unknown phase", ProjectRequest{Name: "x", EquipmentCode: "PUMP", PhaseCodes: []string{"FAT", "PQ"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.CreateProject(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, verrors.CodeValidation, codeOf(err))
		})
	}
}

func TestSubmissionCascadeWithinPhase(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	t1 := h.task(t, "FAT/T1")

	res, err := h.SubmitDocument(ctx, t1, "{}", "completed", "alice")
	require.NoError(t, err)
	assert.Equal(t, review.StateWaiting, res.CompletionState)
	assert.Equal(t, 1, res.SubmittedCount)
	assert.Equal(t, 2, res.RequiredCount)
	assert.Nil(t, res.Cascade)
	assert.Equal(t, status.TaskActive, h.reload(t, "FAT/T1").Status)

	res, err = h.SubmitDocument(ctx, t1, "{}", "completed", "bob")
	require.NoError(t, err)
	assert.Equal(t, review.StateCompleted, res.CompletionState)
	require.NotNil(t, res.Cascade)
	assert.Equal(t, h.task(t, "FAT/T2"), res.Cascade.ActivatedTaskID)

	task1 := h.reload(t, "FAT/T1")
	assert.Equal(t, status.TaskCompleted, task1.Status)
	assert.Equal(t, 2, task1.SubmittedCount)

	task2 := h.reload(t, "FAT/T2")
	assert.Equal(t, status.TaskActive, task2.Status)
	assert.Zero(t, task2.SubmittedCount)
}

func TestDoubleSubmissionConflicts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	t1 := h.task(t, "FAT/T1")

	_, err := h.SubmitDocument(ctx, t1, "{}", "completed", "alice")
	require.NoError(t, err)

	_, err = h.SubmitDocument(ctx, t1, `{"v":2}`, "completed", "alice")
	require.Error(t, err)
	assert.Equal(t, verrors.CodeAlreadySubmitted, codeOf(err))
	assert.Equal(t, verrors.CategoryConflict, verrors.CategoryOf(err))

	assert.Equal(t, 1, h.reload(t, "FAT/T1").SubmittedCount)
	docs, err := h.DocumentHistory(ctx, t1)
	require.NoError(t, err)
	assert.Len(t, docs, 1, "the rejected submission wrote no version")
}

func TestSubmitRejections(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	ctx := context.Background()
	t1 := h.task(t, "FAT/T1")

	_, err := h.SubmitDocument(ctx, t1, "{}", "completed", "mallory")
	assert.Equal(t, verrors.CodeNotAssigned, codeOf(err))
	assert.Equal(t, 403, verrors.AsVerityError(err).HTTPStatus())

	_, err = h.SubmitDocument(ctx, t1, "{}", "blocked", "alice")
	assert.Equal(t, verrors.CodeValidation, codeOf(err))

	_, err = h.SubmitDocument(ctx, t1, "{}", "completed", "")
	assert.Equal(t, verrors.CodeValidation, codeOf(err))

	_, err = h.SubmitDocument(ctx, 9999, "{}", "completed", "alice")
	assert.Equal(t, verrors.CodeTaskNotFound, codeOf(err))

	_, err = h.SubmitDocument(ctx, h.task(t, "FAT/T2"), "{}", "completed", "alice")
	assert.Equal(t, verrors.CodeInvalidTransition, codeOf(err), "pending tasks cannot be completed")
}

func TestSubmitAlreadyAtTargetIsUnchanged(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	ctx := context.Background()
	t1 := h.task(t, "FAT/T1")

	first, err := h.SubmitDocument(ctx, t1, "{}", "completed", "alice")
	require.NoError(t, err)
	require.Equal(t, review.StateCompleted, first.CompletionState)

	again, err := h.SubmitDocument(ctx, t1, `{"ignored":true}`, "completed", "alice")
	require.NoError(t, err)
	assert.Equal(t, review.StateUnchanged, again.CompletionState)
	assert.Equal(t, first.DocumentID, again.DocumentID)
	assert.Equal(t, first.Version, again.Version)

	_, err = h.SubmitDocument(ctx, t1, "{}", "completed", "mallory")
	assert.Equal(t, verrors.CodeNotAssigned, codeOf(err), "the no-op still requires an assigned reviewer")
}

func TestPhaseAndProjectCompletion(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	ctx := context.Background()

	_, err := h.SubmitDocument(ctx, h.task(t, "FAT/T1"), "{}", "completed", "alice")
	require.NoError(t, err)
	res, err := h.SubmitDocument(ctx, h.task(t, "FAT/T2"), "{}", "closed", "alice")
	require.NoError(t, err)
	require.NotNil(t, res.Cascade)
	assert.Equal(t, h.tree.Phases[0].ID, res.Cascade.ClosedPhaseID)
	assert.Equal(t, h.tree.Phases[1].ID, res.Cascade.ActivatedPhaseID)
	assert.Equal(t, h.task(t, "SAT/T1"), res.Cascade.ActivatedTaskID)
	assert.False(t, res.Cascade.ProjectCompleted)

	tree, err := h.ProjectTree(ctx, h.tree.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, status.PhaseClosed, tree.Phases[0].Status)
	assert.Equal(t, status.PhaseActive, tree.Phases[1].Status)
	assert.Equal(t, status.TaskActive, tree.Phases[1].Tasks[0].Status)

	res, err = h.SubmitDocument(ctx, h.task(t, "SAT/T1"), "{}", "completed", "alice")
	require.NoError(t, err)
	assert.True(t, res.Cascade.ProjectCompleted)

	tree, err = h.ProjectTree(ctx, h.tree.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, status.ProjectCompleted, tree.Project.Status)
	assert.NotNil(t, tree.Project.CompletedAt)
	assert.Equal(t, status.PhaseClosed, tree.Phases[1].Status)
}

func TestSaveThenSubmitVersions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	t1 := h.task(t, "FAT/T1")

	saved, err := h.SaveDraft(ctx, t1, "draft", "alice")
	require.NoError(t, err)

	docs, err := h.DocumentHistory(ctx, t1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, saved.DocumentID, docs[0].ID)
	assert.Nil(t, docs[0].Version)
	assert.True(t, docs[0].IsLatest)

	sub, err := h.SubmitDocument(ctx, t1, "final", "completed", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), sub.Version)

	docs, err = h.DocumentHistory(ctx, t1)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.NotNil(t, docs[0].Version)
	assert.Equal(t, int64(1), *docs[0].Version)
	assert.False(t, docs[0].IsLatest)
	assert.Equal(t, sub.DocumentID, docs[1].ID)
	assert.Equal(t, int64(2), *docs[1].Version)
	assert.True(t, docs[1].IsLatest)

	latest, err := h.GetLatestDocument(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, document.SourceLive, latest.Source)
	assert.Equal(t, "final", latest.Content)
}

func TestGetLatestDocumentFallbacks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	ctx := context.Background()
	t1, t2 := h.task(t, "FAT/T1"), h.task(t, "FAT/T2")

	latest, err := h.GetLatestDocument(ctx, t2)
	require.NoError(t, err)
	assert.Equal(t, document.SourceLive, latest.Source)
	assert.Empty(t, latest.Content)

	h.archive.Put("PUMP", "FAT", "reference checklist")
	latest, err = h.GetLatestDocument(ctx, t2)
	require.NoError(t, err)
	assert.Equal(t, document.SourceArchive, latest.Source)
	assert.Equal(t, "reference checklist", latest.Content)

	_, err = h.SaveDraft(ctx, t1, "phase draft", "alice")
	require.NoError(t, err)
	latest, err = h.GetLatestDocument(ctx, t2)
	require.NoError(t, err)
	assert.Equal(t, document.SourceLive, latest.Source)
	assert.Equal(t, "phase draft", latest.Content)
	assert.Equal(t, t1, latest.FromTaskID)

	_, err = h.GetLatestDocument(ctx, 9999)
	assert.Equal(t, verrors.CodeTaskNotFound, codeOf(err))
}

func TestConcurrentSubmitsNeverShareAVersion(t *testing.T) {
	t.Parallel()
	reviewers := []string{"r1", "r2", "r3", "r4"}
	h := newHarness(t, reviewers...)
	ctx := context.Background()
	t1 := h.task(t, "FAT/T1")

	var wg sync.WaitGroup
	errs := make([]error, len(reviewers))
	for i, r := range reviewers {
		wg.Add(1)
		go func(i int, r string) {
			defer wg.Done()
			_, errs[i] = h.SubmitDocument(ctx, t1, fmt.Sprintf(`{"by":%q}`, r), "completed", r)
		}(i, r)
	}
	wg.Wait()

	committed := 0
	for _, err := range errs {
		if err == nil {
			committed++
			continue
		}
		assert.Equal(t, verrors.CategoryConflict, verrors.CategoryOf(err))
	}

	docs, err := h.DocumentHistory(ctx, t1)
	require.NoError(t, err)
	assert.Len(t, docs, committed)
	seen := map[int64]bool{}
	latest := 0
	for _, d := range docs {
		require.NotNil(t, d.Version)
		assert.False(t, seen[*d.Version], "version %d claimed twice", *d.Version)
		seen[*d.Version] = true
		if d.IsLatest {
			latest++
		}
	}
	assert.Equal(t, 1, latest)
	assert.Equal(t, committed, h.reload(t, "FAT/T1").SubmittedCount)
}

func TestIncidentEscalatesThroughRoles(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	ctx := context.Background()
	t1 := h.task(t, "FAT/T1")
	h.setRole(t, "eve", "engineer")
	h.setRole(t, "quinn", "qa_lead")
	h.setRole(t, "max", "manager")

	raised, err := h.RaiseOrContinueIncident(ctx, IncidentRequest{TaskID: t1, UserID: "eve", Content: "snapshot 1"})
	require.NoError(t, err)
	assert.False(t, raised.Resolved)
	assert.Equal(t, "qa_lead", raised.PendingRole)
	assert.Equal(t, status.TaskBlocked, h.reload(t, "FAT/T1").Status)

	mid, err := h.RaiseOrContinueIncident(ctx, IncidentRequest{IncidentID: raised.IncidentID, UserID: "quinn", Content: "snapshot 2"})
	require.NoError(t, err)
	assert.False(t, mid.Resolved)
	assert.Equal(t, "manager", mid.PendingRole)

	last, err := h.RaiseOrContinueIncident(ctx, IncidentRequest{IncidentID: raised.IncidentID, UserID: "max", Content: "snapshot 3"})
	require.NoError(t, err)
	assert.True(t, last.Resolved)
	assert.Equal(t, status.TaskActive, h.reload(t, "FAT/T1").Status)

	hist, err := h.IncidentHistory(ctx, raised.IncidentID)
	require.NoError(t, err)
	assert.True(t, hist.Incident.Resolved)
	require.Len(t, hist.Steps, 3)
	wantRoles := []string{"engineer", "qa_lead", "manager"}
	wantSnaps := []string{"snapshot 1", "snapshot 2", "snapshot 3"}
	for i, s := range hist.Steps {
		assert.Equal(t, wantRoles[i], s.Transaction.Role)
		assert.Equal(t, status.TxnSubmitted, s.Transaction.Status)
		require.NotNil(t, s.Snapshot)
		assert.Equal(t, wantSnaps[i], s.Snapshot.Content)
	}

	_, err = h.RaiseOrContinueIncident(ctx, IncidentRequest{IncidentID: raised.IncidentID, UserID: "max"})
	assert.Equal(t, verrors.CodeIncidentResolved, codeOf(err))
}

func TestIncidentRoleErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	ctx := context.Background()
	t1 := h.task(t, "FAT/T1")

	_, err := h.RaiseOrContinueIncident(ctx, IncidentRequest{TaskID: t1, UserID: "nobody"})
	assert.Equal(t, verrors.CodeNoActiveRole, codeOf(err))
	assert.Equal(t, verrors.CategoryBadRequest, verrors.CategoryOf(err))

	assert.Equal(t, verrors.CodeRoleNotInGraph, codeOf(h.SetActiveRole(ctx, "x", "janitor")))

	_, err = h.RaiseOrContinueIncident(ctx, IncidentRequest{UserID: "nobody"})
	assert.Equal(t, verrors.CodeValidation, codeOf(err))

	h.setRole(t, "eve", "engineer")
	_, err = h.RaiseOrContinueIncident(ctx, IncidentRequest{TaskID: 9999, UserID: "eve"})
	assert.Equal(t, verrors.CodeTaskNotFound, codeOf(err))
	_, err = h.RaiseOrContinueIncident(ctx, IncidentRequest{IncidentID: 9999, UserID: "eve"})
	assert.Equal(t, verrors.CodeIncidentNotFound, codeOf(err))
}

func TestResolveIncidentSkipsPendingRoles(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	ctx := context.Background()
	t1 := h.task(t, "FAT/T1")
	h.setRole(t, "eve", "engineer")
	h.setRole(t, "max", "manager")

	raised, err := h.RaiseOrContinueIncident(ctx, IncidentRequest{TaskID: t1, UserID: "eve", Content: "x"})
	require.NoError(t, err)

	_, err = h.ResolveIncident(ctx, raised.IncidentID, "max", "")
	assert.Equal(t, verrors.CodeValidation, codeOf(err), "a comment is required")

	out, err := h.ResolveIncident(ctx, raised.IncidentID, "max", "false alarm")
	require.NoError(t, err)
	assert.True(t, out.Resolved)
	assert.Equal(t, status.TaskActive, h.reload(t, "FAT/T1").Status)

	hist, err := h.IncidentHistory(ctx, raised.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, "false alarm", hist.Incident.ResolutionComment)
	assert.Equal(t, status.TxnSkipped, hist.Steps[len(hist.Steps)-1].Transaction.Status)

	_, err = h.ResolveIncident(ctx, raised.IncidentID, "max", "again")
	assert.Equal(t, verrors.CodeIncidentResolved, codeOf(err))
}

func TestSystemIssueCarriesDocumentForward(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	t1 := h.task(t, "FAT/T1")
	h.setRole(t, "eve", "engineer")

	_, err := h.SubmitDocument(ctx, t1, "reviewed", "completed", "alice")
	require.NoError(t, err)
	require.Equal(t, 1, h.reload(t, "FAT/T1").SubmittedCount)

	_, err = h.RaiseOrContinueIncident(ctx, IncidentRequest{
		TaskID:      t1,
		UserID:      "eve",
		Content:     "pump trips at 80%",
		FailureType: config.DefaultSystemFailureType,
	})
	require.NoError(t, err)

	task := h.reload(t, "FAT/T1")
	assert.Equal(t, status.TaskBlocked, task.Status)
	assert.Zero(t, task.SubmittedCount)

	docs, err := h.DocumentHistory(ctx, t1)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "reviewed", docs[1].Content)
	assert.Equal(t, int64(2), *docs[1].Version)
	assert.True(t, docs[1].IsLatest)
}

func TestRevertTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	ctx := context.Background()
	t1, t2 := h.task(t, "FAT/T1"), h.task(t, "FAT/T2")

	_, err := h.SubmitDocument(ctx, t1, "{}", "completed", "alice")
	require.NoError(t, err)

	resolvedOnly := `{"comments":[{"text":"ok","resolved":true}]}`
	_, err = h.RevertTask(ctx, t2, resolvedOnly, "alice")
	assert.Equal(t, verrors.CodeValidation, codeOf(err))
	_, err = h.RevertTask(ctx, t2, "not json", "alice")
	assert.Equal(t, verrors.CodeValidation, codeOf(err))

	withOpen := `{"comments":[{"text":"ok","resolved":true},{"text":"torque value missing","resolved":false}]}`
	_, err = h.RevertTask(ctx, t1, withOpen, "alice")
	assert.Equal(t, verrors.CodeValidation, codeOf(err), "the first task of a phase cannot be reverted")

	res, err := h.RevertTask(ctx, t2, withOpen, "alice")
	require.NoError(t, err)
	assert.Equal(t, t1, res.ReopenedTaskID)
	assert.Equal(t, int64(1), res.Version)

	assert.Equal(t, status.TaskRework, h.reload(t, "FAT/T2").Status)
	reopened := h.reload(t, "FAT/T1")
	assert.Equal(t, status.TaskActive, reopened.Status)
	assert.Zero(t, reopened.SubmittedCount)

	// The reopened task can be signed off again and hands back to the reworked one.
	sub, err := h.SubmitDocument(ctx, t1, "{}", "completed", "alice")
	require.NoError(t, err)
	assert.Equal(t, t2, sub.Cascade.ActivatedTaskID)
	assert.Equal(t, status.TaskActive, h.reload(t, "FAT/T2").Status)
}

func TestIncidentOnReworkTaskIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	ctx := context.Background()
	t1, t2 := h.task(t, "FAT/T1"), h.task(t, "FAT/T2")
	h.setRole(t, "eve", "engineer")

	_, err := h.SubmitDocument(ctx, t1, "{}", "completed", "alice")
	require.NoError(t, err)
	_, err = h.RevertTask(ctx, t2, `{"comments":[{"text":"recheck seals","resolved":false}]}`, "alice")
	require.NoError(t, err)

	_, err = h.RaiseOrContinueIncident(ctx, IncidentRequest{TaskID: t2, UserID: "eve", Content: "snapshot"})
	assert.Equal(t, verrors.CodeInvalidTransition, codeOf(err))

	// Nothing was left half-raised: the reopened task is still the only active one.
	assert.Equal(t, status.TaskRework, h.reload(t, "FAT/T2").Status)
	assert.Equal(t, status.TaskActive, h.reload(t, "FAT/T1").Status)
	require.NoError(t, h.db.RunInTx(ctx, func(tx *db.TxOps) error {
		open, err := db.CountOpenIncidentsTx(tx, t2)
		assert.Zero(t, open)
		return err
	}))
}

func TestAssignReviewerTwiceConflicts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	ctx := context.Background()
	t1 := h.task(t, "FAT/T1")

	err := h.AssignReviewer(ctx, t1, "alice")
	assert.Equal(t, verrors.CodeAlreadyAssigned, codeOf(err))
	assert.Equal(t, 1, h.reload(t, "FAT/T1").RequiredCount)

	require.NoError(t, h.AssignReviewer(ctx, t1, "bob"))
	assert.Equal(t, 2, h.reload(t, "FAT/T1").RequiredCount)
}

func TestEventsPublishedAfterCommitOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	ctx := context.Background()
	sub := h.pub.Subscribe(h.tree.Project.ID)

	_, err := h.SubmitDocument(ctx, h.task(t, "FAT/T2"), "{}", "completed", "alice")
	require.Error(t, err)
	assert.Empty(t, sub, "a rolled back transaction publishes nothing")

	_, err = h.SubmitDocument(ctx, h.task(t, "FAT/T1"), "{}", "completed", "alice")
	require.NoError(t, err)

	var got []events.EventType
	for len(sub) > 0 {
		got = append(got, (<-sub).Type)
	}
	assert.Equal(t, []events.EventType{
		events.EventTaskCompleted,
		events.EventTaskActivated,
		events.EventDocumentSubmitted,
	}, got)
	assert.Equal(t, 1.0, h.metrics.EventCount(events.EventTaskCompleted))
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	err := h.mutate(context.Background(), "failing_op", subject{taskID: 7, userID: "alice"}, func(*db.TxOps, *events.Batch) error {
		return errors.New("disk I/O error at page 12")
	})
	require.Error(t, err)
	ve := verrors.AsVerityError(err)
	require.NotNil(t, ve)
	assert.Equal(t, verrors.CodeInternal, ve.Code)
	assert.NotContains(t, ve.UserMessage(), "disk")
	assert.Contains(t, ve.Error(), "disk", "the cause stays available to logs")
	assert.Equal(t, 1.0, h.metrics.OperationCount("failing_op", "internal"))
}

func TestSerializationFailuresAreRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	calls := 0
	err := h.mutate(ctx, "flaky", subject{}, func(_ *db.TxOps, batch *events.Batch) error {
		calls++
		batch.Add(events.NewEvent(events.EventPhaseClosed, 1, 0, nil))
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2.0, h.metrics.RetryCount("flaky"))
	assert.Equal(t, 1.0, h.metrics.EventCount(events.EventPhaseClosed),
		"events of abandoned attempts are dropped")

	calls = 0
	err = h.mutate(ctx, "hopeless", subject{}, func(*db.TxOps, *events.Batch) error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	assert.Equal(t, verrors.CodeTxConflict, codeOf(err))
	assert.Equal(t, h.cfg.Engine.MaxRetries+1, calls)
}

func TestChangeRequestApprovals(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.setRole(t, "quinn", "qa_lead")
	h.setRole(t, "max", "manager")
	h.setRole(t, "eve", "engineer")

	cr, err := h.CreateChangeRequest(ctx, h.tree.Project.ID, "Swap seal supplier", "eve")
	require.NoError(t, err)
	assert.Equal(t, 1, cr.Revision)

	_, err = h.SetApprovers(ctx, cr.ID, []string{"eve"}, nil)
	assert.Equal(t, verrors.CodeNotApprover, codeOf(err))

	cr, err = h.SetApprovers(ctx, cr.ID, []string{"quinn", "max"}, nil)
	require.NoError(t, err)
	assert.Len(t, cr.Approvers, 2)

	_, err = h.RecordApproverDecision(ctx, cr.ID, "quinn", false, "")
	assert.Equal(t, verrors.CodeValidation, codeOf(err))
	cr, err = h.RecordApproverDecision(ctx, cr.ID, "quinn", true, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"max"}, cr.Pending())

	_, err = h.RecordApproverDecision(ctx, cr.ID, "eve", true, "")
	assert.Equal(t, verrors.CodeNotApprover, codeOf(err))

	rev, err := h.UploadRevision(ctx, cr.ID, "", "eve")
	require.NoError(t, err)
	assert.Equal(t, 2, rev.Revision)
	assert.Equal(t, "Swap seal supplier", rev.Title)
	assert.ElementsMatch(t, []string{"quinn", "max"}, rev.Pending(), "decisions reset on a new revision")

	rejected := false
	rev, err = h.SetChangeRequestVerification(ctx, rev.ID, &rejected)
	require.NoError(t, err)
	assert.True(t, rev.Rejected())
}

func TestSettingsAndRoles(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	v, err := h.Setting(ctx, "max_failed_logins")
	require.NoError(t, err)
	assert.Equal(t, "5", v)

	require.NoError(t, h.SetSetting(ctx, "max_failed_logins", "3"))
	v, err = h.Setting(ctx, "max_failed_logins")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	assert.Equal(t, verrors.CodeValidation, codeOf(h.SetSetting(ctx, "max_failed_logins", "-1")))
	_, err = h.Setting(ctx, "colour")
	assert.Equal(t, verrors.CodeValidation, codeOf(err))

	h.setRole(t, "eve", "engineer")
	role, err := h.ActiveRole(ctx, "eve")
	require.NoError(t, err)
	assert.Equal(t, "engineer", role)

	require.NoError(t, h.ClearActiveRole(ctx, "eve"))
	role, err = h.ActiveRole(ctx, "eve")
	require.NoError(t, err)
	assert.Empty(t, role)
}
