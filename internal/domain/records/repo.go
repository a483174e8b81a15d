package records

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repositories give typed, center-scoped access to the five record
// collections. Each Watch opens a change feed that invokes onChange with the
// full current matching set whenever a matching record is added, modified or
// removed; the returned cancel function tears the feed down and is safe to
// call more than once.

type PatientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	ListActiveByCenter(ctx context.Context, centerID string) ([]*Patient, error)
	ListByTherapist(ctx context.Context, centerID string, therapistID uuid.UUID) ([]*Patient, error)
	CountDischargedSince(ctx context.Context, centerID string, since time.Time) (int, error)
	Watch(ctx context.Context, centerID string, onChange func([]*Patient)) (func(), error)
}

type TherapistRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Therapist, error)
	ListActiveByCenter(ctx context.Context, centerID string) ([]*Therapist, error)
	Workload(ctx context.Context, id uuid.UUID) (*Workload, error)
	Watch(ctx context.Context, centerID string, onChange func([]*Therapist)) (func(), error)
}

type SessionRepository interface {
	ListByCenter(ctx context.Context, centerID string) ([]*Session, error)
	ListByTherapist(ctx context.Context, centerID string, therapistID uuid.UUID, from, to *time.Time) ([]*Session, error)
	Watch(ctx context.Context, centerID string, since time.Time, onChange func([]*Session)) (func(), error)
}

type AssessmentRepository interface {
	ListByCenter(ctx context.Context, centerID string) ([]*ClinicalAssessment, error)
	ListByTherapist(ctx context.Context, centerID string, therapistID uuid.UUID) ([]*ClinicalAssessment, error)
	Watch(ctx context.Context, centerID string, onChange func([]*ClinicalAssessment)) (func(), error)
}

type AlertRepository interface {
	CountActive(ctx context.Context, centerID string) (int, error)
	ListActiveByCenter(ctx context.Context, centerID string) ([]*ClinicalAlert, error)
	Watch(ctx context.Context, centerID string, onChange func([]*ClinicalAlert)) (func(), error)
}
