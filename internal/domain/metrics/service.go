package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/psiquecare/psiquecare/internal/domain/analytics"
	"github.com/psiquecare/psiquecare/internal/domain/records"
	"github.com/psiquecare/psiquecare/internal/domain/risk"
)

// ErrAggregation marks any upstream failure during metrics computation. A
// failed computation never yields a partial snapshot: callers get either a
// complete ClinicalMetrics or this error.
var ErrAggregation = errors.New("metrics aggregation failed")

// An assessment improvement counts when the latest score dropped below this
// fraction of the first one (lower clinical score = better).
const improvementFactor = 0.8

// Service orchestrates repository reads, the risk scorer and the analytics
// helpers into center-wide metric snapshots, memoized through the injected
// cache.
type Service struct {
	patients    records.PatientRepository
	therapists  records.TherapistRepository
	sessions    records.SessionRepository
	assessments records.AssessmentRepository
	alerts      records.AlertRepository
	cache       *Cache
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(
	patients records.PatientRepository,
	therapists records.TherapistRepository,
	sessions records.SessionRepository,
	assessments records.AssessmentRepository,
	alerts records.AlertRepository,
	cache *Cache,
	logger zerolog.Logger,
) *Service {
	return &Service{
		patients:    patients,
		therapists:  therapists,
		sessions:    sessions,
		assessments: assessments,
		alerts:      alerts,
		cache:       cache,
		logger:      logger.With().Str("component", "metrics").Logger(),
		now:         time.Now,
	}
}

// Cache exposes the injected cache for out-of-band invalidation.
func (s *Service) Cache() *Cache {
	return s.cache
}

// GetMetrics returns the metrics snapshot for a center. With useCache, a
// fresh cached entry is served without touching the store; otherwise the
// snapshot is recomputed and written through to the cache.
func (s *Service) GetMetrics(ctx context.Context, centerID string, useCache bool) (*ClinicalMetrics, error) {
	if useCache {
		if m, ok := s.cache.Get(centerID); ok {
			return m, nil
		}
	}
	m, err := s.Compute(ctx, centerID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(centerID, m)
	return m, nil
}

// Compute always reads through to the repositories and assembles a complete
// snapshot. Any upstream failure, including a single therapist workload
// read, aborts the whole computation: occupancy is a sum across therapists
// and silently omitting one would under-report capacity.
func (s *Service) Compute(ctx context.Context, centerID string) (*ClinicalMetrics, error) {
	now := s.now()
	dischargedSince := now.AddDate(0, -6, 0)

	var (
		patients    []*records.Patient
		therapists  []*records.Therapist
		sessions    []*records.Session
		assessments []*records.ClinicalAssessment
		alertCount  int
		discharged  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		patients, err = s.patients.ListActiveByCenter(gctx, centerID)
		if err != nil {
			return fmt.Errorf("fetch patients: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		therapists, err = s.therapists.ListActiveByCenter(gctx, centerID)
		if err != nil {
			return fmt.Errorf("fetch therapists: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		sessions, err = s.sessions.ListByCenter(gctx, centerID)
		if err != nil {
			return fmt.Errorf("fetch sessions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		assessments, err = s.assessments.ListByCenter(gctx, centerID)
		if err != nil {
			return fmt.Errorf("fetch assessments: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		alertCount, err = s.alerts.CountActive(gctx, centerID)
		if err != nil {
			return fmt.Errorf("count alerts: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		discharged, err = s.patients.CountDischargedSince(gctx, centerID, dischargedSince)
		if err != nil {
			return fmt.Errorf("count discharged: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAggregation, err)
	}

	// Second fan-out stage: one workload read per active therapist.
	workloads := make([]*records.Workload, len(therapists))
	wg, wctx := errgroup.WithContext(ctx)
	for i, t := range therapists {
		i, t := i, t
		wg.Go(func() error {
			w, err := s.therapists.Workload(wctx, t.ID)
			if err != nil {
				return err
			}
			workloads[i] = w
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAggregation, err)
	}

	m := &ClinicalMetrics{
		CenterID:     centerID,
		ActiveAlerts: alertCount,
		LastUpdated:  now,
	}

	m.TotalPatients = len(patients)
	phqSum, phqCount := 0, 0
	gadSum, gadCount := 0, 0
	for _, p := range patients {
		if risk.IsElevated(risk.Score(p).RiskLevel) {
			m.RiskPatients++
		}
		if p.PHQ9Score != nil {
			phqSum += *p.PHQ9Score
			phqCount++
		}
		if p.GAD7Score != nil {
			gadSum += *p.GAD7Score
			gadCount++
		}
	}
	if phqCount > 0 {
		m.AveragePHQ9 = float64(phqSum) / float64(phqCount)
	}
	if gadCount > 0 {
		m.AverageGAD7 = float64(gadSum) / float64(gadCount)
	}

	completed, cancelled, noShow := 0, 0, 0
	for _, sess := range sessions {
		switch sess.Status {
		case records.SessionCompleted:
			completed++
		case records.SessionCancelled:
			cancelled++
		case records.SessionNoShow:
			noShow++
		}
	}
	total := float64(len(sessions))
	m.CancellationRate = analytics.SafePercent(float64(cancelled), total)
	m.NoShowRate = analytics.SafePercent(float64(noShow), total)
	m.AdherenceRate = analytics.SafePercent(float64(completed), total)

	sumCurrent, sumMax := 0, 0
	m.TherapistUtilization = make([]TherapistUtilization, len(therapists))
	for i, t := range therapists {
		w := workloads[i]
		sumCurrent += w.CurrentPatients
		sumMax += w.MaxPatients
		m.TherapistUtilization[i] = TherapistUtilization{
			TherapistID: t.ID,
			Name:        t.FirstName + " " + t.LastName,
			Utilization: analytics.SafePercent(float64(w.CurrentPatients), float64(w.MaxPatients)),
		}
	}
	m.OccupancyRate = analytics.SafePercent(float64(sumCurrent), float64(sumMax))

	m.ImprovementRate = improvementRate(assessments)
	m.DischargeRate = analytics.SafePercent(float64(discharged), float64(m.TotalPatients+discharged))

	return m, nil
}

// improvementRate compares each patient's first and latest assessment scores.
// Patients with fewer than two assessments are not eligible.
func improvementRate(assessments []*records.ClinicalAssessment) float64 {
	byPatient := make(map[string][]*records.ClinicalAssessment)
	for _, a := range assessments {
		key := a.PatientID.String()
		byPatient[key] = append(byPatient[key], a)
	}

	eligible, improved := 0, 0
	for _, list := range byPatient {
		if len(list) < 2 {
			continue
		}
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
		eligible++
		first, last := list[0], list[len(list)-1]
		if last.Score < first.Score*improvementFactor {
			improved++
		}
	}
	return analytics.SafePercent(float64(improved), float64(eligible))
}
