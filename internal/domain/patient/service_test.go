package patient

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartrx/smartrx/internal/domain/reward"
	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/internal/platform/auth"
	"github.com/smartrx/smartrx/internal/platform/db"
	"github.com/smartrx/smartrx/pkg/pagination"
)

// -- Mock Repositories --

type mockPatientRepo struct {
	mu       sync.Mutex
	patients map[int64]Patient
	nextID   int64
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[int64]Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.patients[p.ID] = *p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id int64) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &p, nil
}

func (m *mockPatientRepo) ListByUser(_ context.Context, userID int64, limit, offset int) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Patient
	for _, p := range m.patients {
		if p.UserID == userID {
			p := p
			all = append(all, &p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	start := min(offset, total)
	end := min(start+limit, total)
	return all[start:end], total, nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.ID]; !ok {
		return db.ErrNotFound
	}
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = *p
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.patients, id)
	return nil
}

type mockVitalRepo struct {
	vitals []Vital
}

func (m *mockVitalRepo) Create(_ context.Context, v *Vital) error {
	v.ID = int64(len(m.vitals) + 1)
	v.CreatedAt = time.Now()
	m.vitals = append(m.vitals, *v)
	return nil
}

func (m *mockVitalRepo) ListByPatient(_ context.Context, patientID int64, limit, offset int) ([]*Vital, int, error) {
	var out []*Vital
	for _, v := range m.vitals {
		if v.PatientID == patientID {
			v := v
			out = append(out, &v)
		}
	}
	total := len(out)
	start := min(offset, total)
	end := min(start+limit, total)
	return out[start:end], total, nil
}

type mockAwarder struct {
	awards []reward.ActivityAward
	result *reward.AwardResult
	err    error
}

func (m *mockAwarder) AwardActivity(_ context.Context, a reward.ActivityAward) (*reward.AwardResult, error) {
	m.awards = append(m.awards, a)
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &reward.AwardResult{WasUpdated: true, Title: a.ActivityName, Points: decimal.NewFromInt(5)}, nil
}

type fixture struct {
	svc      *Service
	patients *mockPatientRepo
	vitals   *mockVitalRepo
	awarder  *mockAwarder
}

func newFixture() *fixture {
	f := &fixture{patients: newMockPatientRepo(), vitals: &mockVitalRepo{}, awarder: &mockAwarder{}}
	f.svc = NewService(f.patients, f.vitals, f.awarder, zerolog.Nop())
	return f
}

func userCtx(userID int64, roles ...string) context.Context {
	if len(roles) == 0 {
		roles = []string{auth.RolePatient}
	}
	return auth.WithUser(context.Background(), userID, roles)
}

func (f *fixture) create(t *testing.T, userID int64, first string) *Patient {
	t.Helper()
	p, err := f.svc.Create(userCtx(userID), CreateInput{FirstName: first, LastName: "Rao"})
	require.NoError(t, err)
	return p
}

func TestCreate(t *testing.T) {
	f := newFixture()
	ctx := userCtx(3)

	p, err := f.svc.Create(ctx, CreateInput{
		FirstName: " Asha ",
		LastName:  "Rao",
		Patch:     Patch{Gender: strPtr("female"), City: strPtr("Pune")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.UserID)
	assert.Equal(t, "Asha", p.FirstName)
	assert.Equal(t, "female", *p.Gender)
	assert.Empty(t, f.awarder.awards, "creating a patient earns nothing")

	_, err = f.svc.Create(ctx, CreateInput{FirstName: "  "})
	assert.Equal(t, http.StatusBadRequest, apierror.StatusCode(err))

	future := time.Now().Add(48 * time.Hour)
	_, err = f.svc.Create(ctx, CreateInput{FirstName: "Baby", Patch: Patch{BirthDate: &future}})
	assert.Equal(t, http.StatusBadRequest, apierror.StatusCode(err))
}

func TestUpdate_AwardsProfileEdit(t *testing.T) {
	f := newFixture()
	p := f.create(t, 3, "Asha")

	updated, award, err := f.svc.Update(userCtx(3), p.ID, Patch{City: strPtr("Mumbai")})
	require.NoError(t, err)
	assert.Equal(t, "Mumbai", *updated.City)
	assert.Equal(t, "Mumbai", *f.patients.patients[p.ID].City)

	require.NotNil(t, award)
	assert.True(t, award.WasUpdated)
	require.Len(t, f.awarder.awards, 1)
	a := f.awarder.awards[0]
	assert.Equal(t, reward.ActivityEditPatientProfile, a.ActivityName)
	assert.Equal(t, int64(3), a.UserID)
	assert.Equal(t, p.ID, *a.PatientID)
}

func TestUpdate_RewardNeverBlocks(t *testing.T) {
	f := newFixture()
	p := f.create(t, 3, "Asha")

	f.awarder.result = &reward.AwardResult{WasUpdated: false, Message: "no reward configured"}
	_, award, err := f.svc.Update(userCtx(3), p.ID, Patch{City: strPtr("Mumbai")})
	require.NoError(t, err)
	assert.False(t, award.WasUpdated)

	f.awarder.result = nil
	f.awarder.err = errors.New("ledger unavailable")
	updated, award, err := f.svc.Update(userCtx(3), p.ID, Patch{City: strPtr("Delhi")})
	require.NoError(t, err)
	assert.Nil(t, award)
	assert.Equal(t, "Delhi", *updated.City)
}

func TestUpdate_Rejects(t *testing.T) {
	f := newFixture()
	p := f.create(t, 3, "Asha")

	_, _, err := f.svc.Update(userCtx(3), p.ID, Patch{})
	assert.Equal(t, http.StatusBadRequest, apierror.StatusCode(err))

	_, _, err = f.svc.Update(userCtx(3), p.ID, Patch{FirstName: strPtr("")})
	assert.Equal(t, http.StatusBadRequest, apierror.StatusCode(err))

	_, _, err = f.svc.Update(userCtx(4), p.ID, Patch{City: strPtr("Goa")})
	assert.Equal(t, http.StatusNotFound, apierror.StatusCode(err), "other users' patients are hidden")

	_, _, err = f.svc.Update(userCtx(3), 999, Patch{City: strPtr("Goa")})
	assert.Equal(t, http.StatusNotFound, apierror.StatusCode(err))
	assert.Empty(t, f.awarder.awards)
}

func TestGet_AdminSeesAll(t *testing.T) {
	f := newFixture()
	p := f.create(t, 3, "Asha")

	got, err := f.svc.Get(userCtx(99, auth.RoleAdmin), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestUpdate_AdminEditCreditsOwner(t *testing.T) {
	f := newFixture()
	p := f.create(t, 3, "Asha")
	admin := userCtx(99, auth.RoleAdmin)

	_, _, err := f.svc.Update(admin, p.ID, Patch{City: strPtr("Nagpur")})
	require.NoError(t, err)
	_, _, err = f.svc.AddVital(admin, p.ID, VitalInput{Name: "spo2", Value: decimal.NewFromInt(97), Unit: "%"})
	require.NoError(t, err)

	require.Len(t, f.awarder.awards, 2)
	for _, a := range f.awarder.awards {
		assert.Equal(t, int64(3), a.UserID, "points belong to the patient's owner")
		assert.Equal(t, int64(99), a.CreatedBy)
		assert.Equal(t, p.ID, *a.PatientID)
	}
}

func TestList(t *testing.T) {
	f := newFixture()
	for _, name := range []string{"A", "B", "C"} {
		f.create(t, 3, name)
	}
	f.create(t, 4, "Other")

	resp, err := f.svc.List(userCtx(3), pagination.New(2, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TotalRecords)
	assert.Equal(t, 2, resp.TotalPages)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "C", resp.Items[0].FirstName)
}

func TestDelete(t *testing.T) {
	f := newFixture()
	p := f.create(t, 3, "Asha")

	assert.Equal(t, http.StatusNotFound, apierror.StatusCode(f.svc.Delete(userCtx(4), p.ID)))
	require.NoError(t, f.svc.Delete(userCtx(3), p.ID))
	assert.Empty(t, f.patients.patients)
}

func TestAddVital(t *testing.T) {
	f := newFixture()
	p := f.create(t, 3, "Asha")
	ctx := userCtx(3)

	v, award, err := f.svc.AddVital(ctx, p.ID, VitalInput{Name: "heart_rate", Value: decimal.NewFromInt(72), Unit: "bpm"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, v.PatientID)
	assert.Equal(t, int64(3), v.CreatedBy)
	assert.False(t, v.MeasuredAt.IsZero())
	require.NotNil(t, award)
	assert.Equal(t, reward.ActivityAddVital, f.awarder.awards[0].ActivityName)

	_, _, err = f.svc.AddVital(ctx, p.ID, VitalInput{Name: "heart_rate", Value: decimal.NewFromInt(-1), Unit: "bpm"})
	assert.Equal(t, http.StatusBadRequest, apierror.StatusCode(err))

	future := time.Now().Add(time.Hour)
	_, _, err = f.svc.AddVital(ctx, p.ID, VitalInput{Name: "spo2", Value: decimal.NewFromInt(98), Unit: "%", MeasuredAt: &future})
	assert.Equal(t, http.StatusBadRequest, apierror.StatusCode(err))

	_, _, err = f.svc.AddVital(userCtx(4), p.ID, VitalInput{Name: "spo2", Value: decimal.NewFromInt(98), Unit: "%"})
	assert.Equal(t, http.StatusNotFound, apierror.StatusCode(err))

	resp, err := f.svc.ListVitals(ctx, p.ID, pagination.New(1, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalRecords)
	assert.Len(t, f.awarder.awards, 1)
}
