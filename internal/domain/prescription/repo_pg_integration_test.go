//go:build integration

package prescription_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartrx/smartrx/internal/domain/patient"
	"github.com/smartrx/smartrx/internal/domain/prescription"
	"github.com/smartrx/smartrx/internal/platform/db"
	"github.com/smartrx/smartrx/internal/platform/db/dbtest"
)

func TestMain(m *testing.M) { dbtest.Main(m) }

func TestPG_PrescriptionLifecycle(t *testing.T) {
	pool := dbtest.New(t)
	ctx := context.Background()
	userID := dbtest.CreateUser(t, pool, "rx@example.com")
	otherID := dbtest.CreateUser(t, pool, "other@example.com")

	patients := patient.NewPatientRepo(pool)
	pt := &patient.Patient{UserID: userID, FirstName: "Asha", LastName: "Rao"}
	require.NoError(t, patients.Create(ctx, pt))

	repo := prescription.NewRepo(pool)
	for i, key := range []string{
		"11111111-1111-1111-1111-111111111111",
		"22222222-2222-2222-2222-222222222222",
	} {
		p := &prescription.Prescription{
			UserID: userID, BlobKey: key, FileName: "rx.pdf", ContentType: "application/pdf",
			SizeBytes: int64(100 + i), SHA256: "0000000000000000000000000000000000000000000000000000000000000000",
		}
		require.NoError(t, repo.Create(ctx, p))
		assert.NotZero(t, p.ID)
	}
	require.NoError(t, repo.Create(ctx, &prescription.Prescription{
		UserID: otherID, BlobKey: "33333333-3333-3333-3333-333333333333", FileName: "x.png",
		ContentType: "image/png", SizeBytes: 1, SHA256: "0000000000000000000000000000000000000000000000000000000000000000",
	}))

	items, total, err := repo.List(ctx, prescription.ListFilter{UserID: userID}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	newest := items[0]

	require.NoError(t, repo.SetPatient(ctx, newest.ID, pt.ID))
	items, total, err = repo.List(ctx, prescription.ListFilter{UserID: userID, PatientID: &pt.ID}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, newest.ID, items[0].ID)

	// Removing the patient keeps the prescription but clears the link.
	require.NoError(t, patients.Delete(ctx, pt.ID))
	got, err := repo.GetByID(ctx, newest.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PatientID)

	require.NoError(t, repo.Delete(ctx, newest.ID))
	_, err = repo.GetByID(ctx, newest.ID)
	assert.True(t, db.IsNotFound(err))
	assert.True(t, db.IsNotFound(repo.Delete(ctx, newest.ID)))
}
