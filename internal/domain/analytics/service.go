package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/psiquecare/psiquecare/internal/domain/records"
)

// Filter narrows the session range for a therapist analytics request.
type Filter struct {
	From *time.Time
	To   *time.Time
}

// Result is the full analytics view for one therapist, assembled from the
// pure computation functions. Either every field is populated or the request
// fails as a whole.
type Result struct {
	CenterID            string                `json:"center_id"`
	TherapistID         uuid.UUID             `json:"therapist_id"`
	From                *time.Time            `json:"from,omitempty"`
	To                  *time.Time            `json:"to,omitempty"`
	TotalSessions       int                   `json:"total_sessions"`
	CompletedSessions   int                   `json:"completed_sessions"`
	CancellationRate    float64               `json:"cancellation_rate"`
	AdherenceRate       float64               `json:"adherence_rate"`
	TotalRevenue        float64               `json:"total_revenue"`
	ActivePatients      int                   `json:"active_patients"`
	AverageImprovement  float64               `json:"average_improvement"`
	AssessmentsApplied  int                   `json:"assessments_applied"`
	AverageScorePercent float64               `json:"average_score_percent"`
	Distribution        EmotionalDistribution `json:"emotional_distribution"`
	MonthlyTrends       []MonthlyTrend        `json:"monthly_trends"`
	ConsultationReasons []ConsultationReason  `json:"consultation_reasons"`
	Evolution           []PatientEvolution    `json:"emotional_evolution"`
	PatientSummaries    []PatientSummary      `json:"patient_summaries"`
	GeneratedAt         time.Time             `json:"generated_at"`
}

// Service fetches one therapist's records and runs the computation engine
// over them.
type Service struct {
	patients    records.PatientRepository
	sessions    records.SessionRepository
	assessments records.AssessmentRepository
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(
	patients records.PatientRepository,
	sessions records.SessionRepository,
	assessments records.AssessmentRepository,
	logger zerolog.Logger,
) *Service {
	return &Service{
		patients:    patients,
		sessions:    sessions,
		assessments: assessments,
		logger:      logger.With().Str("component", "analytics").Logger(),
		now:         time.Now,
	}
}

// TherapistAnalytics computes the analytics view for one therapist. The three
// upstream reads run concurrently; any failure aborts the whole request so a
// half-populated result is never returned.
func (s *Service) TherapistAnalytics(ctx context.Context, centerID string, therapistID uuid.UUID, filter Filter) (*Result, error) {
	var (
		sessions    []*records.Session
		patients    []*records.Patient
		assessments []*records.ClinicalAssessment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = s.sessions.ListByTherapist(gctx, centerID, therapistID, filter.From, filter.To)
		if err != nil {
			return fmt.Errorf("fetch sessions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		patients, err = s.patients.ListByTherapist(gctx, centerID, therapistID)
		if err != nil {
			return fmt.Errorf("fetch patients: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		assessments, err = s.assessments.ListByTherapist(gctx, centerID, therapistID)
		if err != nil {
			return fmt.Errorf("fetch assessments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("therapist analytics %s: %w", therapistID, err)
	}

	now := s.now()
	res := &Result{
		CenterID:    centerID,
		TherapistID: therapistID,
		From:        filter.From,
		To:          filter.To,
		GeneratedAt: now,
	}

	completed, cancelled := 0, 0
	for _, sess := range sessions {
		switch sess.Status {
		case records.SessionCompleted:
			completed++
			res.TotalRevenue += sess.Cost
		case records.SessionCancelled:
			cancelled++
		}
	}
	res.TotalSessions = len(sessions)
	res.CompletedSessions = completed
	res.CancellationRate = SafePercent(float64(cancelled), float64(len(sessions)))
	res.AdherenceRate = SafePercent(float64(completed), float64(len(sessions)))

	for _, p := range patients {
		if p.Status == records.PatientActive {
			res.ActivePatients++
		}
	}

	res.AssessmentsApplied = len(assessments)
	scoreSum, scoreCount := 0.0, 0
	for _, a := range assessments {
		if a.MaxScore > 0 {
			scoreSum += SafePercent(a.Score, a.MaxScore)
			scoreCount++
		}
	}
	if scoreCount > 0 {
		res.AverageScorePercent = scoreSum / float64(scoreCount)
	}

	allDeltas := 0
	deltaSum := 0
	for _, deltas := range toneImprovements(sessions) {
		for _, d := range deltas {
			deltaSum += d
			allDeltas++
		}
	}
	if allDeltas > 0 {
		res.AverageImprovement = float64(deltaSum) / float64(allDeltas)
	}

	res.Distribution = ComputeEmotionalDistribution(sessions)
	res.MonthlyTrends = ComputeMonthlyTrends(sessions)
	res.ConsultationReasons = ComputeConsultationReasons(patients)
	res.Evolution = ComputeEmotionalEvolution(sessions)
	res.PatientSummaries = ComputePatientSummaries(patients, sessions, now)

	return res, nil
}
