package incident

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/verity/internal/activation"
	"github.com/randalmurphal/verity/internal/db"
	"github.com/randalmurphal/verity/internal/document"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/events"
	"github.com/randalmurphal/verity/internal/status"
)

func newWorkflow(t *testing.T, d *db.DB) *Workflow {
	t.Helper()
	g, err := NewGraph(map[string]string{"R1": "R2", "R2": "R3", "R3": Terminal})
	require.NoError(t, err)
	return NewWorkflow(g, activation.New(nil), document.NewStore(d, nil), "system_issue", nil)
}

func hop(t *testing.T, d *db.DB, w *Workflow, req Request) (*Outcome, error) {
	t.Helper()
	var out *Outcome
	err := d.RunInTx(context.Background(), func(tx *db.TxOps) error {
		var err error
		out, err = w.RaiseOrContinueTx(tx, req, &events.Batch{})
		return err
	})
	return out, err
}

func chainOf(t *testing.T, d *db.DB, incidentID int64) []db.IncidentTransaction {
	t.Helper()
	var hops []db.IncidentTransaction
	err := d.RunInTx(context.Background(), func(tx *db.TxOps) error {
		var err error
		hops, err = db.ListIncidentTransactionsTx(tx, incidentID)
		return err
	})
	require.NoError(t, err)
	return hops
}

func pendingRoles(hops []db.IncidentTransaction) map[string]int {
	out := map[string]int{}
	for _, h := range hops {
		if h.Status == status.TxnPending {
			out[h.Role]++
		}
	}
	return out
}

func TestGraph(t *testing.T) {
	g, err := NewGraph(map[string]string{"R1": "R2", "R2": Terminal})
	require.NoError(t, err)

	next, ok := g.Successor("R1")
	assert.True(t, ok)
	assert.Equal(t, "R2", next)
	_, ok = g.Successor("R2")
	assert.False(t, ok)
	_, ok = g.Successor("R9")
	assert.False(t, ok)
	assert.True(t, g.Contains("R2"))
	assert.False(t, g.Contains(Terminal))
	assert.Equal(t, []string{"R1", "R2"}, g.Roles())

	_, err = NewGraph(map[string]string{"R1": "R7"})
	assert.Error(t, err)
	_, err = NewGraph(nil)
	assert.Error(t, err)
}

func TestFullChain(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	f := db.SeedFixture(t, d, "alice")
	w := newWorkflow(t, d)
	taskID := f.Task("FAT/T1").ID

	out, err := hop(t, d, w, Request{TaskID: taskID, UserID: "u1", Role: "R1", Content: "found a leak"})
	require.NoError(t, err)
	assert.False(t, out.Resolved)
	assert.Equal(t, "R2", out.PendingRole)
	assert.Equal(t, status.TaskBlocked, db.ReloadTask(t, d, taskID).Status)

	hops := chainOf(t, d, out.IncidentID)
	require.Len(t, hops, 2)
	assert.Equal(t, status.TxnSubmitted, hops[0].Status)
	assert.Equal(t, "R1", hops[0].Role)
	assert.Equal(t, status.TxnPending, hops[1].Status)
	assert.Equal(t, "R2", hops[1].Role)
	assert.Equal(t, hops[0].DocumentID, hops[1].DocumentID, "both hops reference the raise snapshot")

	out2, err := hop(t, d, w, Request{IncidentID: out.IncidentID, UserID: "u2", Role: "R2", Content: "confirmed"})
	require.NoError(t, err)
	assert.Equal(t, hops[1].ID, out2.TransactionID)
	assert.Equal(t, "R3", out2.PendingRole)

	hops = chainOf(t, d, out.IncidentID)
	require.Len(t, hops, 3)
	assert.Equal(t, status.TxnSubmitted, hops[1].Status)
	assert.Equal(t, "u2", hops[1].UserID)
	assert.Equal(t, map[string]int{"R3": 1}, pendingRoles(hops))

	out3, err := hop(t, d, w, Request{IncidentID: out.IncidentID, UserID: "u3", Role: "R3", Content: "fixed"})
	require.NoError(t, err)
	assert.True(t, out3.Resolved)
	assert.Empty(t, pendingRoles(chainOf(t, d, out.IncidentID)))
	assert.Equal(t, status.TaskActive, db.ReloadTask(t, d, taskID).Status)

	err = d.RunInTx(context.Background(), func(tx *db.TxOps) error {
		inc, steps, err := w.HistoryTx(tx, out.IncidentID)
		require.NoError(t, err)
		assert.True(t, inc.Resolved)
		require.Len(t, steps, 3)
		assert.Equal(t, "found a leak", steps[0].Snapshot.Content)
		assert.Equal(t, "confirmed", steps[1].Snapshot.Content)
		assert.Equal(t, "fixed", steps[2].Snapshot.Content)
		return nil
	})
	require.NoError(t, err)

	_, err = hop(t, d, w, Request{IncidentID: out.IncidentID, UserID: "u3", Role: "R3"})
	assert.Equal(t, verrors.CodeIncidentResolved, verrors.AsVerityError(err).Code)
}

func TestRoleChecks(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	f := db.SeedFixture(t, d)
	w := newWorkflow(t, d)
	taskID := f.Task("FAT/T1").ID

	_, err := hop(t, d, w, Request{TaskID: taskID, UserID: "u1"})
	assert.Equal(t, verrors.CodeNoActiveRole, verrors.AsVerityError(err).Code)
	assert.Equal(t, verrors.CategoryBadRequest, verrors.CategoryOf(err))

	_, err = hop(t, d, w, Request{TaskID: taskID, UserID: "u1", Role: "janitor"})
	assert.Equal(t, verrors.CategoryForbidden, verrors.CategoryOf(err))

	_, err = hop(t, d, w, Request{TaskID: 9999, UserID: "u1", Role: "R1"})
	assert.Equal(t, verrors.CategoryNotFound, verrors.CategoryOf(err))

	_, err = hop(t, d, w, Request{IncidentID: 9999, UserID: "u1", Role: "R1"})
	assert.Equal(t, verrors.CodeIncidentNotFound, verrors.AsVerityError(err).Code)

	assert.Equal(t, status.TaskActive, db.ReloadTask(t, d, taskID).Status, "rejected calls write nothing")
}

func TestContinueWithoutPendingRecordsHop(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	f := db.SeedFixture(t, d)
	w := newWorkflow(t, d)

	out, err := hop(t, d, w, Request{TaskID: f.Task("FAT/T1").ID, UserID: "u1", Role: "R1"})
	require.NoError(t, err)

	// R1 speaks again: there is no pending R1 hop, and R2 is already pending.
	out2, err := hop(t, d, w, Request{IncidentID: out.IncidentID, UserID: "u1", Role: "R1", Content: "more"})
	require.NoError(t, err)
	assert.Equal(t, "R2", out2.PendingRole)

	hops := chainOf(t, d, out.IncidentID)
	require.Len(t, hops, 3)
	assert.Equal(t, status.TxnSubmitted, hops[2].Status)
	assert.Equal(t, map[string]int{"R2": 1}, pendingRoles(hops), "never two pending hops per role")
}

func TestSystemIssueResetsAndCarriesDocument(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	f := db.SeedFixture(t, d, "alice", "bob")
	w := newWorkflow(t, d)
	taskID := f.Task("FAT/T1").ID
	ctx := context.Background()

	err := d.RunInTx(ctx, func(tx *db.TxOps) error {
		chain, err := db.LockTaskChainTx(tx, taskID)
		require.NoError(t, err)
		_, err = document.NewStore(d, nil).SubmitTx(tx, chain, "report", "alice")
		require.NoError(t, err)
		_, err = db.MarkSubmittedTx(tx, taskID, "alice")
		require.NoError(t, err)
		_, err = db.IncrementSubmittedCountTx(tx, taskID)
		return err
	})
	require.NoError(t, err)

	_, err = hop(t, d, w, Request{TaskID: taskID, UserID: "u1", Role: "R1", FailureType: "system_issue", Content: "rig down"})
	require.NoError(t, err)

	task := db.ReloadTask(t, d, taskID)
	assert.Equal(t, status.TaskBlocked, task.Status)
	assert.Zero(t, task.SubmittedCount)

	var docs []db.TaskDocument
	err = d.RunInTx(ctx, func(tx *db.TxOps) error {
		docs, err = db.ListTaskDocumentsTx(tx, taskID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "report", docs[1].Content)
	assert.Equal(t, int64(2), *docs[1].Version)
	assert.True(t, docs[1].IsLatest)
}

func TestResolve(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	f := db.SeedFixture(t, d)
	w := newWorkflow(t, d)
	taskID := f.Task("FAT/T1").ID

	first, err := hop(t, d, w, Request{TaskID: taskID, UserID: "u1", Role: "R1"})
	require.NoError(t, err)
	second, err := hop(t, d, w, Request{TaskID: taskID, UserID: "u1", Role: "R1"})
	require.NoError(t, err)

	resolve := func(id int64, role, comment string) error {
		return d.RunInTx(context.Background(), func(tx *db.TxOps) error {
			_, err := w.ResolveTx(tx, id, "u2", role, comment, &events.Batch{})
			return err
		})
	}

	assert.Equal(t, verrors.CategoryBadRequest, verrors.CategoryOf(resolve(first.IncidentID, "R2", "")))
	assert.Equal(t, verrors.CategoryForbidden, verrors.CategoryOf(resolve(first.IncidentID, "janitor", "ok")))

	require.NoError(t, resolve(first.IncidentID, "R2", "duplicate"))
	assert.Empty(t, pendingRoles(chainOf(t, d, first.IncidentID)))
	assert.Equal(t, status.TaskBlocked, db.ReloadTask(t, d, taskID).Status, "second incident still open")

	assert.Equal(t, verrors.CodeIncidentResolved, verrors.AsVerityError(resolve(first.IncidentID, "R2", "again")).Code)

	require.NoError(t, resolve(second.IncidentID, "R3", "fixed"))
	assert.Equal(t, status.TaskActive, db.ReloadTask(t, d, taskID).Status)

	hops := chainOf(t, d, second.IncidentID)
	assert.Equal(t, status.TxnSkipped, hops[len(hops)-1].Status)
}
