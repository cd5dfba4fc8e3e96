package changerequest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/verity/internal/db"
	verrors "github.com/randalmurphal/verity/internal/errors"
)

func run(t *testing.T, d *db.DB, fn func(tx *db.TxOps) (*View, error)) (*View, error) {
	t.Helper()
	var v *View
	err := d.RunInTx(context.Background(), func(tx *db.TxOps) error {
		var err error
		v, err = fn(tx)
		return err
	})
	return v, err
}

func decision(v *View, user string) *bool {
	for _, a := range v.Approvers {
		if a.UserID == user {
			return a.Verified
		}
	}
	return nil
}

func TestApprovalLifecycle(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	f := db.SeedFixture(t, d)
	w := NewWorkflow([]string{"qa_lead", "manager"}, nil)

	cr, err := run(t, d, func(tx *db.TxOps) (*View, error) {
		return w.CreateTx(tx, f.Project.ID, "Swap seal material", "eve")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cr.Revision)
	assert.False(t, cr.Rejected())

	v, err := run(t, d, func(tx *db.TxOps) (*View, error) {
		return w.SetApproversTx(tx, cr.ID, map[string]string{"alice": "qa_lead", "bob": "manager"}, nil)
	})
	require.NoError(t, err)
	require.Len(t, v.Approvers, 2)
	assert.Equal(t, []string{"alice", "bob"}, v.Pending())

	_, err = run(t, d, func(tx *db.TxOps) (*View, error) {
		return w.RecordDecisionTx(tx, cr.ID, "alice", true, "")
	})
	require.NoError(t, err)

	// Editing the set keeps alice's decision.
	v, err = run(t, d, func(tx *db.TxOps) (*View, error) {
		return w.SetApproversTx(tx, cr.ID, map[string]string{"carol": "manager", "alice": "qa_lead"}, []string{"bob"})
	})
	require.NoError(t, err)
	require.Len(t, v.Approvers, 2)
	require.NotNil(t, decision(v, "alice"))
	assert.True(t, *decision(v, "alice"))
	assert.Equal(t, []string{"carol"}, v.Pending())

	_, err = run(t, d, func(tx *db.TxOps) (*View, error) {
		return w.RecordDecisionTx(tx, cr.ID, "carol", false, "")
	})
	assert.Equal(t, verrors.CategoryBadRequest, verrors.CategoryOf(err), "rejection needs a reason")

	v, err = run(t, d, func(tx *db.TxOps) (*View, error) {
		return w.RecordDecisionTx(tx, cr.ID, "carol", false, "torque value missing")
	})
	require.NoError(t, err)
	assert.False(t, *decision(v, "carol"))
	assert.False(t, v.Rejected(), "approver decisions do not set the aggregate flag")

	rev, err := run(t, d, func(tx *db.TxOps) (*View, error) {
		return w.UploadRevisionTx(tx, cr.ID, "", "eve")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rev.Revision)
	require.NotNil(t, rev.SupersedesID)
	assert.Equal(t, cr.ID, *rev.SupersedesID)
	assert.Equal(t, "Swap seal material", rev.Title)
	assert.Equal(t, []string{"alice", "carol"}, rev.Pending(), "same approvers, decisions cleared")

	old, err := run(t, d, func(tx *db.TxOps) (*View, error) { return w.GetTx(tx, cr.ID) })
	require.NoError(t, err)
	assert.Empty(t, old.Approvers)

	no := false
	v, err = run(t, d, func(tx *db.TxOps) (*View, error) { return w.SetVerificationTx(tx, rev.ID, &no) })
	require.NoError(t, err)
	assert.True(t, v.Rejected())
}

func TestApproverChecks(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	f := db.SeedFixture(t, d)
	w := NewWorkflow([]string{"qa_lead"}, nil)

	cr, err := run(t, d, func(tx *db.TxOps) (*View, error) { return w.CreateTx(tx, f.Project.ID, "t", "eve") })
	require.NoError(t, err)

	_, err = run(t, d, func(tx *db.TxOps) (*View, error) {
		return w.SetApproversTx(tx, cr.ID, map[string]string{"dave": "engineer"}, nil)
	})
	assert.Equal(t, verrors.CategoryForbidden, verrors.CategoryOf(err))

	_, err = run(t, d, func(tx *db.TxOps) (*View, error) {
		return w.RecordDecisionTx(tx, cr.ID, "dave", true, "")
	})
	assert.Equal(t, verrors.CodeNotApprover, verrors.AsVerityError(err).Code)

	_, err = run(t, d, func(tx *db.TxOps) (*View, error) { return w.GetTx(tx, 9999) })
	assert.Equal(t, verrors.CategoryNotFound, verrors.CategoryOf(err))

	_, err = run(t, d, func(tx *db.TxOps) (*View, error) { return w.CreateTx(tx, 9999, "t", "eve") })
	assert.Equal(t, verrors.CodeProjectNotFound, verrors.AsVerityError(err).Code)

	_, err = run(t, d, func(tx *db.TxOps) (*View, error) { return w.CreateTx(tx, f.Project.ID, "", "eve") })
	assert.Equal(t, verrors.CategoryBadRequest, verrors.CategoryOf(err))
}
