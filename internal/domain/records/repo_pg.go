package records

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/psiquecare/psiquecare/internal/platform/db"
)

// watchSet implements the shared change-feed shape: subscribe to a listener
// channel, and on every notification for this center re-query the full
// current matching set. A failed re-query is logged and skipped; the next
// notification retries naturally.
func watchSet[T any](
	ctx context.Context,
	listener *db.Listener,
	logger zerolog.Logger,
	channel, centerID string,
	fetch func(context.Context) ([]*T, error),
	onChange func([]*T),
) (func(), error) {
	if listener == nil {
		return nil, fmt.Errorf("change feed unavailable: listener not configured")
	}
	cancel := listener.Subscribe(channel, func(payload string) {
		if payload != "" && payload != centerID {
			return
		}
		if ctx.Err() != nil {
			return
		}
		qctx, qcancel := context.WithTimeout(ctx, 15*time.Second)
		defer qcancel()
		set, err := fetch(qctx)
		if err != nil {
			logger.Error().Err(err).
				Str("channel", channel).
				Str("center_id", centerID).
				Msg("change feed re-query failed")
			return
		}
		onChange(set)
	})
	return cancel, nil
}

// =========== Patient Repository ===========

type patientRepoPG struct {
	pool     *pgxpool.Pool
	listener *db.Listener
	logger   zerolog.Logger
}

func NewPatientRepoPG(pool *pgxpool.Pool, listener *db.Listener, logger zerolog.Logger) PatientRepository {
	return &patientRepoPG{pool: pool, listener: listener, logger: logger}
}

const patientCols = `id, center_id, first_name, last_name, email, phone, assigned_therapist,
	status, risk_level, phq9_score, gad7_score, diagnosis, total_sessions,
	previous_diagnoses, discharged_at, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.CenterID, &p.FirstName, &p.LastName, &p.Email, &p.Phone,
		&p.AssignedTherapist, &p.Status, &p.RiskLevel, &p.PHQ9Score, &p.GAD7Score,
		&p.Diagnosis, &p.TotalSessions, &p.MedicalHistory.PreviousDiagnoses,
		&p.DischargedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) queryPatients(ctx context.Context, sql string, args ...interface{}) ([]*Patient, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *patientRepoPG) ListActiveByCenter(ctx context.Context, centerID string) ([]*Patient, error) {
	return r.queryPatients(ctx,
		`SELECT `+patientCols+` FROM patient WHERE center_id = $1 AND status = $2 ORDER BY last_name, first_name`,
		centerID, PatientActive)
}

func (r *patientRepoPG) ListByTherapist(ctx context.Context, centerID string, therapistID uuid.UUID) ([]*Patient, error) {
	return r.queryPatients(ctx,
		`SELECT `+patientCols+` FROM patient WHERE center_id = $1 AND assigned_therapist = $2 ORDER BY last_name, first_name`,
		centerID, therapistID)
}

func (r *patientRepoPG) CountDischargedSince(ctx context.Context, centerID string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM patient WHERE center_id = $1 AND status = $2 AND discharged_at >= $3`,
		centerID, PatientDischarged, since).Scan(&n)
	return n, err
}

func (r *patientRepoPG) Watch(ctx context.Context, centerID string, onChange func([]*Patient)) (func(), error) {
	return watchSet(ctx, r.listener, r.logger, db.ChanPatients, centerID,
		func(qctx context.Context) ([]*Patient, error) {
			return r.ListActiveByCenter(qctx, centerID)
		}, onChange)
}

// =========== Therapist Repository ===========

type therapistRepoPG struct {
	pool     *pgxpool.Pool
	listener *db.Listener
	logger   zerolog.Logger
}

func NewTherapistRepoPG(pool *pgxpool.Pool, listener *db.Listener, logger zerolog.Logger) TherapistRepository {
	return &therapistRepoPG{pool: pool, listener: listener, logger: logger}
}

const therapistCols = `id, center_id, first_name, last_name, email, status, schedule,
	current_patients, max_patients, created_at, updated_at`

func scanTherapist(row pgx.Row) (*Therapist, error) {
	var t Therapist
	var schedule []byte
	err := row.Scan(&t.ID, &t.CenterID, &t.FirstName, &t.LastName, &t.Email, &t.Status,
		&schedule, &t.CurrentPatients, &t.MaxPatients, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(schedule) > 0 && string(schedule) != "null" {
		if err := json.Unmarshal(schedule, &t.Schedule); err != nil {
			return nil, fmt.Errorf("decode therapist schedule: %w", err)
		}
	}
	return &t, nil
}

func (r *therapistRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Therapist, error) {
	return scanTherapist(r.pool.QueryRow(ctx,
		`SELECT `+therapistCols+` FROM therapist WHERE id = $1`, id))
}

func (r *therapistRepoPG) ListActiveByCenter(ctx context.Context, centerID string) ([]*Therapist, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+therapistCols+` FROM therapist WHERE center_id = $1 AND status = $2 ORDER BY last_name, first_name`,
		centerID, TherapistActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Therapist
	for rows.Next() {
		t, err := scanTherapist(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *therapistRepoPG) Workload(ctx context.Context, id uuid.UUID) (*Workload, error) {
	var w Workload
	err := r.pool.QueryRow(ctx,
		`SELECT id, current_patients, max_patients FROM therapist WHERE id = $1`, id).
		Scan(&w.TherapistID, &w.CurrentPatients, &w.MaxPatients)
	if err != nil {
		return nil, fmt.Errorf("therapist workload %s: %w", id, err)
	}
	return &w, nil
}

func (r *therapistRepoPG) Watch(ctx context.Context, centerID string, onChange func([]*Therapist)) (func(), error) {
	return watchSet(ctx, r.listener, r.logger, db.ChanTherapists, centerID,
		func(qctx context.Context) ([]*Therapist, error) {
			return r.ListActiveByCenter(qctx, centerID)
		}, onChange)
}

// =========== Session Repository ===========

type sessionRepoPG struct {
	pool     *pgxpool.Pool
	listener *db.Listener
	logger   zerolog.Logger
}

func NewSessionRepoPG(pool *pgxpool.Pool, listener *db.Listener, logger zerolog.Logger) SessionRepository {
	return &sessionRepoPG{pool: pool, listener: listener, logger: logger}
}

const sessionCols = `id, center_id, patient_id, therapist_id, date, duration_min, status,
	cost, emotional_tone_pre, emotional_tone_post, notes, created_at, updated_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.CenterID, &s.PatientID, &s.TherapistID, &s.Date, &s.DurationMin,
		&s.Status, &s.Cost, &s.EmotionalTonePre, &s.EmotionalTonePost, &s.Notes,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = NormalizeSessionStatus(s.Status)
	return &s, nil
}

func (r *sessionRepoPG) querySessions(ctx context.Context, sql string, args ...interface{}) ([]*Session, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *sessionRepoPG) ListByCenter(ctx context.Context, centerID string) ([]*Session, error) {
	return r.querySessions(ctx,
		`SELECT `+sessionCols+` FROM session WHERE center_id = $1 ORDER BY date`, centerID)
}

func (r *sessionRepoPG) ListByTherapist(ctx context.Context, centerID string, therapistID uuid.UUID, from, to *time.Time) ([]*Session, error) {
	query := `SELECT ` + sessionCols + ` FROM session WHERE center_id = $1 AND therapist_id = $2`
	args := []interface{}{centerID, therapistID}
	idx := 3
	if from != nil {
		query += fmt.Sprintf(` AND date >= $%d`, idx)
		args = append(args, *from)
		idx++
	}
	if to != nil {
		query += fmt.Sprintf(` AND date <= $%d`, idx)
		args = append(args, *to)
		idx++
	}
	query += ` ORDER BY date`
	return r.querySessions(ctx, query, args...)
}

func (r *sessionRepoPG) Watch(ctx context.Context, centerID string, since time.Time, onChange func([]*Session)) (func(), error) {
	return watchSet(ctx, r.listener, r.logger, db.ChanSessions, centerID,
		func(qctx context.Context) ([]*Session, error) {
			return r.querySessions(qctx,
				`SELECT `+sessionCols+` FROM session WHERE center_id = $1 AND date >= $2 ORDER BY date`,
				centerID, since)
		}, onChange)
}

// =========== Assessment Repository ===========

type assessmentRepoPG struct {
	pool     *pgxpool.Pool
	listener *db.Listener
	logger   zerolog.Logger
}

func NewAssessmentRepoPG(pool *pgxpool.Pool, listener *db.Listener, logger zerolog.Logger) AssessmentRepository {
	return &assessmentRepoPG{pool: pool, listener: listener, logger: logger}
}

const assessmentCols = `id, center_id, patient_id, therapist_id, type, score, max_score, created_at`

func scanAssessment(row pgx.Row) (*ClinicalAssessment, error) {
	var a ClinicalAssessment
	err := row.Scan(&a.ID, &a.CenterID, &a.PatientID, &a.TherapistID, &a.Type,
		&a.Score, &a.MaxScore, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assessmentRepoPG) queryAssessments(ctx context.Context, sql string, args ...interface{}) ([]*ClinicalAssessment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ClinicalAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *assessmentRepoPG) ListByCenter(ctx context.Context, centerID string) ([]*ClinicalAssessment, error) {
	return r.queryAssessments(ctx,
		`SELECT `+assessmentCols+` FROM clinical_assessment WHERE center_id = $1 ORDER BY created_at`, centerID)
}

func (r *assessmentRepoPG) ListByTherapist(ctx context.Context, centerID string, therapistID uuid.UUID) ([]*ClinicalAssessment, error) {
	return r.queryAssessments(ctx,
		`SELECT `+assessmentCols+` FROM clinical_assessment WHERE center_id = $1 AND therapist_id = $2 ORDER BY created_at`,
		centerID, therapistID)
}

func (r *assessmentRepoPG) Watch(ctx context.Context, centerID string, onChange func([]*ClinicalAssessment)) (func(), error) {
	return watchSet(ctx, r.listener, r.logger, db.ChanAssessments, centerID,
		func(qctx context.Context) ([]*ClinicalAssessment, error) {
			return r.ListByCenter(qctx, centerID)
		}, onChange)
}

// =========== Alert Repository ===========

type alertRepoPG struct {
	pool     *pgxpool.Pool
	listener *db.Listener
	logger   zerolog.Logger
}

func NewAlertRepoPG(pool *pgxpool.Pool, listener *db.Listener, logger zerolog.Logger) AlertRepository {
	return &alertRepoPG{pool: pool, listener: listener, logger: logger}
}

const alertCols = `id, center_id, patient_id, severity, status, message, created_at, updated_at`

func scanAlert(row pgx.Row) (*ClinicalAlert, error) {
	var a ClinicalAlert
	err := row.Scan(&a.ID, &a.CenterID, &a.PatientID, &a.Severity, &a.Status,
		&a.Message, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *alertRepoPG) CountActive(ctx context.Context, centerID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM clinical_alert WHERE center_id = $1 AND status = $2`,
		centerID, AlertActive).Scan(&n)
	return n, err
}

func (r *alertRepoPG) ListActiveByCenter(ctx context.Context, centerID string) ([]*ClinicalAlert, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+alertCols+` FROM clinical_alert WHERE center_id = $1 AND status = $2 ORDER BY created_at DESC`,
		centerID, AlertActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ClinicalAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *alertRepoPG) Watch(ctx context.Context, centerID string, onChange func([]*ClinicalAlert)) (func(), error) {
	return watchSet(ctx, r.listener, r.logger, db.ChanAlerts, centerID,
		func(qctx context.Context) ([]*ClinicalAlert, error) {
			return r.ListActiveByCenter(qctx, centerID)
		}, onChange)
}
