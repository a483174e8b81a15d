package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psiquecare/psiquecare/internal/domain/records"
)

func intPtr(v int) *int { return &v }

// -- Fake repositories with call counting --

type fakePatients struct {
	mu       sync.Mutex
	patients []*records.Patient
	listErr  error
	reads    int32

	watchFns []func([]*records.Patient)
}

func (f *fakePatients) GetByID(_ context.Context, id uuid.UUID) (*records.Patient, error) {
	for _, p := range f.patients {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakePatients) ListActiveByCenter(_ context.Context, _ string) ([]*records.Patient, error) {
	atomic.AddInt32(&f.reads, 1)
	return f.patients, f.listErr
}

func (f *fakePatients) ListByTherapist(_ context.Context, _ string, _ uuid.UUID) ([]*records.Patient, error) {
	return f.patients, nil
}

func (f *fakePatients) CountDischargedSince(_ context.Context, _ string, _ time.Time) (int, error) {
	return 0, nil
}

func (f *fakePatients) Watch(_ context.Context, _ string, onChange func([]*records.Patient)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchFns = append(f.watchFns, onChange)
	return func() {}, nil
}

func (f *fakePatients) notify() {
	f.mu.Lock()
	fns := append([]func([]*records.Patient){}, f.watchFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(f.patients)
	}
}

type fakeTherapists struct {
	therapists  []*records.Therapist
	workloadErr error
}

func (f *fakeTherapists) GetByID(_ context.Context, id uuid.UUID) (*records.Therapist, error) {
	for _, th := range f.therapists {
		if th.ID == id {
			return th, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeTherapists) ListActiveByCenter(_ context.Context, _ string) ([]*records.Therapist, error) {
	return f.therapists, nil
}

func (f *fakeTherapists) Workload(_ context.Context, id uuid.UUID) (*records.Workload, error) {
	if f.workloadErr != nil {
		return nil, f.workloadErr
	}
	for _, th := range f.therapists {
		if th.ID == id {
			return &records.Workload{
				TherapistID:     th.ID,
				CurrentPatients: th.CurrentPatients,
				MaxPatients:     th.MaxPatients,
			}, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeTherapists) Watch(_ context.Context, _ string, _ func([]*records.Therapist)) (func(), error) {
	return func() {}, nil
}

type fakeSessions struct {
	sessions []*records.Session
}

func (f *fakeSessions) ListByCenter(_ context.Context, _ string) ([]*records.Session, error) {
	return f.sessions, nil
}

func (f *fakeSessions) ListByTherapist(_ context.Context, _ string, _ uuid.UUID, _, _ *time.Time) ([]*records.Session, error) {
	return f.sessions, nil
}

func (f *fakeSessions) Watch(_ context.Context, _ string, _ time.Time, _ func([]*records.Session)) (func(), error) {
	return func() {}, nil
}

type fakeAssessments struct {
	assessments []*records.ClinicalAssessment
}

func (f *fakeAssessments) ListByCenter(_ context.Context, _ string) ([]*records.ClinicalAssessment, error) {
	return f.assessments, nil
}

func (f *fakeAssessments) ListByTherapist(_ context.Context, _ string, _ uuid.UUID) ([]*records.ClinicalAssessment, error) {
	return f.assessments, nil
}

func (f *fakeAssessments) Watch(_ context.Context, _ string, _ func([]*records.ClinicalAssessment)) (func(), error) {
	return func() {}, nil
}

type fakeAlerts struct {
	count int
}

func (f *fakeAlerts) CountActive(_ context.Context, _ string) (int, error) {
	return f.count, nil
}

func (f *fakeAlerts) ListActiveByCenter(_ context.Context, _ string) ([]*records.ClinicalAlert, error) {
	return nil, nil
}

func (f *fakeAlerts) Watch(_ context.Context, _ string, _ func([]*records.ClinicalAlert)) (func(), error) {
	return func() {}, nil
}

// -- Tests --

type testEnv struct {
	patients    *fakePatients
	therapists  *fakeTherapists
	sessions    *fakeSessions
	assessments *fakeAssessments
	alerts      *fakeAlerts
	cache       *Cache
	svc         *Service
}

func newTestEnv() *testEnv {
	t1 := &records.Therapist{ID: uuid.New(), FirstName: "María", LastName: "Ruiz", CurrentPatients: 8, MaxPatients: 10}
	t2 := &records.Therapist{ID: uuid.New(), FirstName: "Jorge", LastName: "Vega", CurrentPatients: 4, MaxPatients: 10}

	env := &testEnv{
		patients: &fakePatients{patients: []*records.Patient{
			{ID: uuid.New(), Status: records.PatientActive, PHQ9Score: intPtr(22), GAD7Score: intPtr(12), TotalSessions: 5},
			{ID: uuid.New(), Status: records.PatientActive, PHQ9Score: intPtr(8), GAD7Score: intPtr(4), TotalSessions: 9},
		}},
		therapists: &fakeTherapists{therapists: []*records.Therapist{t1, t2}},
		sessions: &fakeSessions{sessions: []*records.Session{
			{ID: uuid.New(), Status: records.SessionCompleted},
			{ID: uuid.New(), Status: records.SessionCompleted},
			{ID: uuid.New(), Status: records.SessionCompleted},
			{ID: uuid.New(), Status: records.SessionCancelled},
			{ID: uuid.New(), Status: records.SessionNoShow},
		}},
		assessments: &fakeAssessments{},
		alerts:      &fakeAlerts{count: 2},
		cache:       NewCache(5 * time.Minute),
	}
	env.svc = NewService(env.patients, env.therapists, env.sessions, env.assessments, env.alerts, env.cache, zerolog.Nop())
	return env
}

func TestCompute(t *testing.T) {
	env := newTestEnv()

	m, err := env.svc.Compute(context.Background(), "center-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.CenterID != "center-1" {
		t.Errorf("center id = %q", m.CenterID)
	}
	if m.TotalPatients != 2 {
		t.Errorf("total patients = %d, want 2", m.TotalPatients)
	}
	// first patient scores 45 (high), second 0 (low)
	if m.RiskPatients != 1 {
		t.Errorf("risk patients = %d, want 1", m.RiskPatients)
	}
	if m.AveragePHQ9 != 15 {
		t.Errorf("average phq9 = %v, want 15", m.AveragePHQ9)
	}
	if m.AverageGAD7 != 8 {
		t.Errorf("average gad7 = %v, want 8", m.AverageGAD7)
	}
	if m.CancellationRate != 20 || m.NoShowRate != 20 || m.AdherenceRate != 60 {
		t.Errorf("rates wrong: cancel=%v noshow=%v adherence=%v",
			m.CancellationRate, m.NoShowRate, m.AdherenceRate)
	}
	if len(m.TherapistUtilization) != 2 {
		t.Fatalf("utilization entries = %d, want 2", len(m.TherapistUtilization))
	}
	if m.TherapistUtilization[0].Utilization != 80 {
		t.Errorf("first therapist utilization = %v, want 80", m.TherapistUtilization[0].Utilization)
	}
	// (8+4)/(10+10) = 60%
	if m.OccupancyRate != 60 {
		t.Errorf("occupancy = %v, want 60", m.OccupancyRate)
	}
	if m.ActiveAlerts != 2 {
		t.Errorf("active alerts = %d, want 2", m.ActiveAlerts)
	}
	if m.LastUpdated.IsZero() {
		t.Error("expected last_updated to be set")
	}
}

func TestCompute_EmptyCenter(t *testing.T) {
	env := newTestEnv()
	env.patients.patients = nil
	env.therapists.therapists = nil
	env.sessions.sessions = nil
	env.alerts.count = 0

	m, err := env.svc.Compute(context.Background(), "center-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.TotalPatients != 0 || m.OccupancyRate != 0 || m.AdherenceRate != 0 || m.DischargeRate != 0 {
		t.Errorf("empty center must yield zeros: %+v", m)
	}
}

func TestCompute_WorkloadFailureAborts(t *testing.T) {
	env := newTestEnv()
	env.therapists.workloadErr = errors.New("timeout")

	_, err := env.svc.Compute(context.Background(), "center-1")
	if err == nil {
		t.Fatal("expected error when a workload read fails")
	}
	if !errors.Is(err, ErrAggregation) {
		t.Errorf("expected ErrAggregation, got %v", err)
	}
	if _, ok := env.cache.Get("center-1"); ok {
		t.Error("failed computation must not populate the cache")
	}
}

func TestGetMetrics_CacheLifecycle(t *testing.T) {
	env := newTestEnv()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	env.cache.SetClock(func() time.Time { return current })

	ctx := context.Background()

	// first call computes and caches
	if _, err := env.svc.GetMetrics(ctx, "center-1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&env.patients.reads); got != 1 {
		t.Fatalf("expected 1 read, got %d", got)
	}

	// within ttl: served from cache
	current = base.Add(3 * time.Minute)
	if _, err := env.svc.GetMetrics(ctx, "center-1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&env.patients.reads); got != 1 {
		t.Errorf("expected cached read, store reads = %d", got)
	}

	// past ttl: recomputed
	current = base.Add(6 * time.Minute)
	if _, err := env.svc.GetMetrics(ctx, "center-1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&env.patients.reads); got != 2 {
		t.Errorf("expected recompute after expiry, store reads = %d", got)
	}
}

func TestGetMetrics_BypassCache(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.svc.GetMetrics(ctx, "center-1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.GetMetrics(ctx, "center-1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&env.patients.reads); got != 2 {
		t.Errorf("useCache=false must always hit the store, reads = %d", got)
	}
}

func TestCompute_PercentagesBounded(t *testing.T) {
	env := newTestEnv()

	m, err := env.svc.Compute(context.Background(), "center-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for name, v := range map[string]float64{
		"cancellation": m.CancellationRate,
		"no_show":      m.NoShowRate,
		"adherence":    m.AdherenceRate,
		"occupancy":    m.OccupancyRate,
		"improvement":  m.ImprovementRate,
		"discharge":    m.DischargeRate,
	} {
		if v < 0 || v > 100 {
			t.Errorf("%s rate out of bounds: %v", name, v)
		}
	}
}

func TestImprovementRate(t *testing.T) {
	p1 := uuid.New() // improved: 20 → 10 (< 20*0.8)
	p2 := uuid.New() // not improved: 20 → 18
	p3 := uuid.New() // single assessment, not eligible
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assessments := []*records.ClinicalAssessment{
		{PatientID: p1, Score: 20, CreatedAt: base},
		{PatientID: p1, Score: 10, CreatedAt: base.AddDate(0, 1, 0)},
		{PatientID: p2, Score: 20, CreatedAt: base},
		{PatientID: p2, Score: 18, CreatedAt: base.AddDate(0, 1, 0)},
		{PatientID: p3, Score: 15, CreatedAt: base},
	}

	if got := improvementRate(assessments); got != 50 {
		t.Errorf("improvement rate = %v, want 50", got)
	}
	if got := improvementRate(nil); got != 0 {
		t.Errorf("no assessments must yield 0, got %v", got)
	}
}

func TestImprovementRate_UnorderedInput(t *testing.T) {
	pid := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// latest first: ordering must come from CreatedAt, not slice position
	assessments := []*records.ClinicalAssessment{
		{PatientID: pid, Score: 10, CreatedAt: base.AddDate(0, 2, 0)},
		{PatientID: pid, Score: 20, CreatedAt: base},
	}
	if got := improvementRate(assessments); got != 100 {
		t.Errorf("improvement rate = %v, want 100", got)
	}
}

func TestCompute_DischargeRate(t *testing.T) {
	env := newTestEnv()
	// 2 active patients + fake 0 discharged → 0; raise discharged via custom repo
	env.patients.patients = env.patients.patients[:1]

	dischargedRepo := &dischargingPatients{fakePatients: env.patients, discharged: 1}
	svc := NewService(dischargedRepo, env.therapists, env.sessions, env.assessments, env.alerts, NewCache(time.Minute), zerolog.Nop())

	m, err := svc.Compute(context.Background(), "center-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1 discharged / (1 active + 1 discharged) = 50%
	if m.DischargeRate != 50 {
		t.Errorf("discharge rate = %v, want 50", m.DischargeRate)
	}
}

type dischargingPatients struct {
	*fakePatients
	discharged int
}

func (d *dischargingPatients) CountDischargedSince(_ context.Context, _ string, _ time.Time) (int, error) {
	return d.discharged, nil
}
