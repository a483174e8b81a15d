package records

import (
	"time"

	"github.com/google/uuid"
)

// Patient statuses.
const (
	PatientActive     = "active"
	PatientInactive   = "inactive"
	PatientDischarged = "discharged"
	PatientPending    = "pending"
)

// Risk tiers, lowest to highest.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Therapist statuses.
const (
	TherapistActive   = "active"
	TherapistInactive = "inactive"
	TherapistOnLeave  = "on-leave"
)

// Session statuses (canonical forms).
const (
	SessionScheduled = "scheduled"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
	SessionNoShow    = "no-show"
)

// Alert severities reuse the risk tier vocabulary. Alert statuses:
const (
	AlertActive       = "active"
	AlertAcknowledged = "acknowledged"
	AlertResolved     = "resolved"
)

// Assessment types.
const (
	AssessmentPHQ9     = "phq9"
	AssessmentGAD7     = "gad7"
	AssessmentBeck     = "beck"
	AssessmentHamilton = "hamilton"
	AssessmentCustom   = "custom"
)

// sessionStatusAliases maps the Spanish status names still present in older
// records to their canonical forms.
var sessionStatusAliases = map[string]string{
	"confirmada": SessionScheduled,
	"finalizada": SessionCompleted,
	"cancelada":  SessionCancelled,
}

// NormalizeSessionStatus maps legacy Spanish session statuses to the
// canonical vocabulary. Unknown values pass through unchanged.
func NormalizeSessionStatus(status string) string {
	if canonical, ok := sessionStatusAliases[status]; ok {
		return canonical
	}
	return status
}

// Emotional tone labels recorded before and after a session.
const (
	ToneTriste      = "triste"
	ToneAnsioso     = "ansioso"
	ToneIrritado    = "irritado"
	ToneConfundido  = "confundido"
	ToneNeutral     = "neutral"
	TonePositivo    = "positivo"
	ToneMuyPositivo = "muy_positivo"
)

// toneValues is the fixed numeric scale used everywhere tone is averaged or
// differenced. The mapping is part of the clinical contract and must not vary
// between call sites.
var toneValues = map[string]int{
	ToneTriste:      2,
	ToneAnsioso:     3,
	ToneIrritado:    4,
	ToneConfundido:  4,
	ToneNeutral:     5,
	TonePositivo:    7,
	ToneMuyPositivo: 9,
}

// ToneValue returns the numeric value for an emotional tone label. The second
// return value is false for unknown labels, which must be excluded from
// averages rather than treated as zero.
func ToneValue(label string) (int, bool) {
	v, ok := toneValues[label]
	return v, ok
}

// Emotional buckets used by the distribution analytics.
const (
	BucketAnxiety    = "anxiety"
	BucketDepression = "depression"
	BucketAnger      = "anger"
	BucketStress     = "stress"
	BucketCalm       = "calm"
	BucketHappiness  = "happiness"
	BucketOther      = "other"
)

var toneBuckets = map[string]string{
	ToneAnsioso:     BucketAnxiety,
	ToneTriste:      BucketDepression,
	ToneIrritado:    BucketAnger,
	ToneConfundido:  BucketStress,
	ToneNeutral:     BucketCalm,
	TonePositivo:    BucketHappiness,
	ToneMuyPositivo: BucketHappiness,
}

// ToneBucket maps a tone label to its distribution bucket. Unknown labels
// fall into BucketOther.
func ToneBucket(label string) string {
	if b, ok := toneBuckets[label]; ok {
		return b
	}
	return BucketOther
}

// MedicalHistory carries the free-text clinical background scanned by the
// risk scoring function.
type MedicalHistory struct {
	PreviousDiagnoses []string `json:"previous_diagnoses"`
}

// Patient maps to the patient table. RiskLevel is a derived value recomputed
// from clinical fields on every aggregation; the stored column is only a
// display cache.
type Patient struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	CenterID          string         `db:"center_id" json:"center_id"`
	FirstName         string         `db:"first_name" json:"first_name"`
	LastName          string         `db:"last_name" json:"last_name"`
	Email             *string        `db:"email" json:"email,omitempty"`
	Phone             *string        `db:"phone" json:"phone,omitempty"`
	AssignedTherapist uuid.UUID      `db:"assigned_therapist" json:"assigned_therapist"`
	Status            string         `db:"status" json:"status"`
	RiskLevel         string         `db:"risk_level" json:"risk_level"`
	PHQ9Score         *int           `db:"phq9_score" json:"phq9_score,omitempty"`
	GAD7Score         *int           `db:"gad7_score" json:"gad7_score,omitempty"`
	Diagnosis         []string       `db:"diagnosis" json:"diagnosis"`
	TotalSessions     int            `db:"total_sessions" json:"total_sessions"`
	MedicalHistory    MedicalHistory `db:"-" json:"medical_history"`
	DischargedAt      *time.Time     `db:"discharged_at" json:"discharged_at,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// FullName returns the patient's display name.
func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// ScheduleBreak is a pause inside a working day.
type ScheduleBreak struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DaySchedule describes one weekday of a therapist's working hours.
type DaySchedule struct {
	Start     string          `json:"start"`
	End       string          `json:"end"`
	Available bool            `json:"available"`
	Breaks    []ScheduleBreak `json:"breaks,omitempty"`
}

// Therapist maps to the therapist table.
type Therapist struct {
	ID              uuid.UUID              `db:"id" json:"id"`
	CenterID        string                 `db:"center_id" json:"center_id"`
	FirstName       string                 `db:"first_name" json:"first_name"`
	LastName        string                 `db:"last_name" json:"last_name"`
	Email           *string                `db:"email" json:"email,omitempty"`
	Status          string                 `db:"status" json:"status"`
	Schedule        map[string]DaySchedule `db:"-" json:"schedule,omitempty"`
	CurrentPatients int                    `db:"current_patients" json:"current_patients"`
	MaxPatients     int                    `db:"max_patients" json:"max_patients"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at" json:"updated_at"`
}

// Workload is the capacity snapshot read per therapist during aggregation.
type Workload struct {
	TherapistID     uuid.UUID `json:"therapist_id"`
	CurrentPatients int       `json:"current_patients"`
	MaxPatients     int       `json:"max_patients"`
}

// Session maps to the session table. EmotionalTonePre/Post hold tone labels;
// nil means the tone was not recorded and the session is excluded from tone
// averages.
type Session struct {
	ID                uuid.UUID `db:"id" json:"id"`
	CenterID          string    `db:"center_id" json:"center_id"`
	PatientID         uuid.UUID `db:"patient_id" json:"patient_id"`
	TherapistID       uuid.UUID `db:"therapist_id" json:"therapist_id"`
	Date              time.Time `db:"date" json:"date"`
	DurationMin       int       `db:"duration_min" json:"duration_min"`
	Status            string    `db:"status" json:"status"`
	Cost              float64   `db:"cost" json:"cost"`
	EmotionalTonePre  *string   `db:"emotional_tone_pre" json:"emotional_tone_pre,omitempty"`
	EmotionalTonePost *string   `db:"emotional_tone_post" json:"emotional_tone_post,omitempty"`
	Notes             *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// ClinicalAssessment maps to the clinical_assessment table. CreatedAt is the
// time axis for trend analysis.
type ClinicalAssessment struct {
	ID          uuid.UUID `db:"id" json:"id"`
	CenterID    string    `db:"center_id" json:"center_id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	TherapistID uuid.UUID `db:"therapist_id" json:"therapist_id"`
	Type        string    `db:"type" json:"type"`
	Score       float64   `db:"score" json:"score"`
	MaxScore    float64   `db:"max_score" json:"max_score"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ClinicalAlert maps to the clinical_alert table.
type ClinicalAlert struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CenterID  string    `db:"center_id" json:"center_id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Severity  string    `db:"severity" json:"severity"`
	Status    string    `db:"status" json:"status"`
	Message   *string   `db:"message" json:"message,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
