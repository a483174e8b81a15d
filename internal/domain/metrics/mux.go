package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/psiquecare/psiquecare/internal/domain/records"
)

// Sessions older than this window cannot move any derived metric enough to
// warrant a recompute trigger, so the session watch is bounded to it.
const sessionWatchWindow = 90 * 24 * time.Hour

// Mux composes the per-repository change feeds for one center into a single
// "something changed" signal. Every upstream notification triggers one full
// uncached recompute; bursts are NOT coalesced — write volume is low enough
// that per-notification recomputes are acceptable, and consumers that need
// debouncing add it at their own boundary.
type Mux struct {
	svc         *Service
	patients    records.PatientRepository
	therapists  records.TherapistRepository
	sessions    records.SessionRepository
	assessments records.AssessmentRepository
	alerts      records.AlertRepository
	logger      zerolog.Logger
	now         func() time.Time
}

func NewMux(
	svc *Service,
	patients records.PatientRepository,
	therapists records.TherapistRepository,
	sessions records.SessionRepository,
	assessments records.AssessmentRepository,
	alerts records.AlertRepository,
	logger zerolog.Logger,
) *Mux {
	return &Mux{
		svc:         svc,
		patients:    patients,
		therapists:  therapists,
		sessions:    sessions,
		assessments: assessments,
		alerts:      alerts,
		logger:      logger.With().Str("component", "metrics_mux").Logger(),
		now:         time.Now,
	}
}

// subscription tracks one consumer's upstream watches and its stopped flag.
// The flag is checked under the mutex immediately before every delivery, so
// a recompute still in flight when the consumer unsubscribes is dropped
// rather than delivered late.
type subscription struct {
	mu      sync.Mutex
	stopped bool
	once    sync.Once
	cancels []func()
}

func (s *subscription) cancelAll() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		for _, c := range s.cancels {
			c()
		}
	})
}

// Subscribe opens one change feed per upstream repository and invokes
// onUpdate with a fresh snapshot on every upstream change. An initial
// computation runs immediately so the first delivery does not wait for the
// next change. The returned cancel function is idempotent and safe to call
// while a recompute is in flight.
func (m *Mux) Subscribe(ctx context.Context, centerID string, onUpdate func(*ClinicalMetrics)) (func(), error) {
	sub := &subscription{}

	deliver := func() {
		snapshot, err := m.svc.GetMetrics(ctx, centerID, false)
		if err != nil {
			// Previous cached and delivered values stand; a broken update
			// is never pushed downstream.
			m.logger.Error().Err(err).Str("center_id", centerID).
				Msg("subscription recompute failed")
			return
		}
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if sub.stopped {
			return
		}
		onUpdate(snapshot)
	}

	since := m.now().Add(-sessionWatchWindow)
	opens := []func() (func(), error){
		func() (func(), error) {
			return m.patients.Watch(ctx, centerID, func([]*records.Patient) { deliver() })
		},
		func() (func(), error) {
			return m.therapists.Watch(ctx, centerID, func([]*records.Therapist) { deliver() })
		},
		func() (func(), error) {
			return m.sessions.Watch(ctx, centerID, since, func([]*records.Session) { deliver() })
		},
		func() (func(), error) {
			return m.assessments.Watch(ctx, centerID, func([]*records.ClinicalAssessment) { deliver() })
		},
		func() (func(), error) {
			return m.alerts.Watch(ctx, centerID, func([]*records.ClinicalAlert) { deliver() })
		},
	}
	for _, open := range opens {
		cancel, err := open()
		if err != nil {
			sub.cancelAll()
			return nil, err
		}
		sub.cancels = append(sub.cancels, cancel)
	}

	go deliver()

	return sub.cancelAll, nil
}
