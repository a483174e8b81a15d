// Package analytics derives distributions, trends and per-patient summaries
// from batches of session, patient and assessment records. Every function
// here is pure: records in, derived values out, no I/O.
package analytics

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/psiquecare/psiquecare/internal/domain/records"
	"github.com/psiquecare/psiquecare/internal/domain/risk"
)

// Patient trend classifications.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// SafePercent returns num/den*100, or 0 when the denominator is zero. Every
// percentage in this package and in the metrics aggregator goes through it so
// the zero-denominator invariant holds uniformly.
func SafePercent(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den * 100
}

// EmotionalDistribution holds the share of completed sessions per emotional
// bucket, as percentages of completed sessions with a recorded pre-tone.
type EmotionalDistribution struct {
	Anxiety    float64 `json:"anxiety"`
	Depression float64 `json:"depression"`
	Anger      float64 `json:"anger"`
	Stress     float64 `json:"stress"`
	Calm       float64 `json:"calm"`
	Happiness  float64 `json:"happiness"`
	Other      float64 `json:"other"`
}

// ComputeEmotionalDistribution buckets completed sessions by pre-session tone.
// Zero qualifying sessions yields all-zero buckets, never a division error.
func ComputeEmotionalDistribution(sessions []*records.Session) EmotionalDistribution {
	counts := make(map[string]int)
	total := 0
	for _, s := range sessions {
		if s.Status != records.SessionCompleted || s.EmotionalTonePre == nil {
			continue
		}
		counts[records.ToneBucket(*s.EmotionalTonePre)]++
		total++
	}
	den := float64(total)
	return EmotionalDistribution{
		Anxiety:    SafePercent(float64(counts[records.BucketAnxiety]), den),
		Depression: SafePercent(float64(counts[records.BucketDepression]), den),
		Anger:      SafePercent(float64(counts[records.BucketAnger]), den),
		Stress:     SafePercent(float64(counts[records.BucketStress]), den),
		Calm:       SafePercent(float64(counts[records.BucketCalm]), den),
		Happiness:  SafePercent(float64(counts[records.BucketHappiness]), den),
		Other:      SafePercent(float64(counts[records.BucketOther]), den),
	}
}

// MonthlyTrend accumulates one calendar month of session activity. Revenue
// sums cost over completed sessions only.
type MonthlyTrend struct {
	Year      int     `json:"year"`
	Month     int     `json:"month"`
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Cancelled int     `json:"cancelled"`
	Revenue   float64 `json:"revenue"`
}

// ComputeMonthlyTrends groups sessions by calendar month, sorted
// chronologically by (year, month).
func ComputeMonthlyTrends(sessions []*records.Session) []MonthlyTrend {
	type key struct {
		year  int
		month time.Month
	}
	byMonth := make(map[key]*MonthlyTrend)
	for _, s := range sessions {
		k := key{s.Date.Year(), s.Date.Month()}
		t, ok := byMonth[k]
		if !ok {
			t = &MonthlyTrend{Year: k.year, Month: int(k.month)}
			byMonth[k] = t
		}
		t.Total++
		switch s.Status {
		case records.SessionCompleted:
			t.Completed++
			t.Revenue += s.Cost
		case records.SessionCancelled:
			t.Cancelled++
		}
	}

	trends := make([]MonthlyTrend, 0, len(byMonth))
	for _, t := range byMonth {
		trends = append(trends, *t)
	}
	sort.Slice(trends, func(i, j int) bool {
		if trends[i].Year != trends[j].Year {
			return trends[i].Year < trends[j].Year
		}
		return trends[i].Month < trends[j].Month
	})
	return trends
}

// ConsultationReason is one diagnosis with its frequency across patients.
type ConsultationReason struct {
	Reason     string  `json:"reason"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ComputeConsultationReasons flattens every patient's diagnosis set into
// frequency counts as a percentage of patient count, sorted descending and
// capped at the top 10.
func ComputeConsultationReasons(patients []*records.Patient) []ConsultationReason {
	counts := make(map[string]int)
	for _, p := range patients {
		for _, d := range p.Diagnosis {
			counts[d]++
		}
	}

	reasons := make([]ConsultationReason, 0, len(counts))
	for reason, count := range counts {
		reasons = append(reasons, ConsultationReason{
			Reason:     reason,
			Count:      count,
			Percentage: SafePercent(float64(count), float64(len(patients))),
		})
	}
	sort.Slice(reasons, func(i, j int) bool {
		if reasons[i].Count != reasons[j].Count {
			return reasons[i].Count > reasons[j].Count
		}
		return reasons[i].Reason < reasons[j].Reason
	})
	if len(reasons) > 10 {
		reasons = reasons[:10]
	}
	return reasons
}

// PatientEvolution classifies one patient's tone trajectory across sessions
// with both pre and post tones recorded.
type PatientEvolution struct {
	PatientID          uuid.UUID `json:"patient_id"`
	SessionCount       int       `json:"session_count"`
	AverageImprovement float64   `json:"average_improvement"`
	Trend              string    `json:"trend"`
}

// toneImprovements returns post-pre tone deltas per patient, counting only
// sessions where both tones are recorded and known.
func toneImprovements(sessions []*records.Session) map[uuid.UUID][]int {
	byPatient := make(map[uuid.UUID][]int)
	for _, s := range sessions {
		if s.EmotionalTonePre == nil || s.EmotionalTonePost == nil {
			continue
		}
		pre, okPre := records.ToneValue(*s.EmotionalTonePre)
		post, okPost := records.ToneValue(*s.EmotionalTonePost)
		if !okPre || !okPost {
			continue
		}
		byPatient[s.PatientID] = append(byPatient[s.PatientID], post-pre)
	}
	return byPatient
}

func averageImprovement(deltas []int) float64 {
	if len(deltas) == 0 {
		return 0
	}
	sum := 0
	for _, d := range deltas {
		sum += d
	}
	return float64(sum) / float64(len(deltas))
}

func classifyTrend(avg float64) string {
	switch {
	case avg > 1:
		return TrendImproving
	case avg < -1:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// ComputeEmotionalEvolution returns per-patient tone evolution for patients
// with at least one session carrying both tones, sorted by descending average
// improvement.
func ComputeEmotionalEvolution(sessions []*records.Session) []PatientEvolution {
	byPatient := toneImprovements(sessions)

	evolutions := make([]PatientEvolution, 0, len(byPatient))
	for patientID, deltas := range byPatient {
		avg := averageImprovement(deltas)
		evolutions = append(evolutions, PatientEvolution{
			PatientID:          patientID,
			SessionCount:       len(deltas),
			AverageImprovement: avg,
			Trend:              classifyTrend(avg),
		})
	}
	sort.Slice(evolutions, func(i, j int) bool {
		if evolutions[i].AverageImprovement != evolutions[j].AverageImprovement {
			return evolutions[i].AverageImprovement > evolutions[j].AverageImprovement
		}
		return evolutions[i].PatientID.String() < evolutions[j].PatientID.String()
	})
	return evolutions
}

// PatientSummary is one row of the per-patient overview table.
type PatientSummary struct {
	PatientID          uuid.UUID  `json:"patient_id"`
	Name               string     `json:"name"`
	PredominantEmotion string     `json:"predominant_emotion"`
	ActiveAlerts       int        `json:"active_alerts"`
	Progress           float64    `json:"progress"`
	Adherence          float64    `json:"adherence"`
	LastSession        *time.Time `json:"last_session,omitempty"`
	NextSession        *time.Time `json:"next_session,omitempty"`
}

// riskAlertWeight maps a derived risk tier to a display alert count.
func riskAlertWeight(level string) int {
	switch level {
	case records.RiskCritical:
		return 3
	case records.RiskHigh:
		return 2
	case records.RiskMedium:
		return 1
	default:
		return 0
	}
}

// canonical iteration order for mode tie-breaking
var toneOrder = []string{
	records.ToneTriste, records.ToneAnsioso, records.ToneIrritado,
	records.ToneConfundido, records.ToneNeutral, records.TonePositivo,
	records.ToneMuyPositivo,
}

func predominantEmotion(sessions []*records.Session) string {
	counts := make(map[string]int)
	for _, s := range sessions {
		if s.EmotionalTonePre == nil {
			continue
		}
		if _, ok := records.ToneValue(*s.EmotionalTonePre); ok {
			counts[*s.EmotionalTonePre]++
		}
	}
	best, bestCount := "", 0
	for _, tone := range toneOrder {
		if counts[tone] > bestCount {
			best, bestCount = tone, counts[tone]
		}
	}
	if best == "" {
		return records.BucketOther
	}
	return records.ToneBucket(best)
}

func clamp(lo, hi, v float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ComputePatientSummaries builds one summary row per patient from the session
// set, sorted by descending overall progress. now separates past sessions
// (last) from upcoming scheduled ones (next).
func ComputePatientSummaries(patients []*records.Patient, sessions []*records.Session, now time.Time) []PatientSummary {
	byPatient := make(map[uuid.UUID][]*records.Session)
	for _, s := range sessions {
		byPatient[s.PatientID] = append(byPatient[s.PatientID], s)
	}
	improvements := toneImprovements(sessions)

	summaries := make([]PatientSummary, 0, len(patients))
	for _, p := range patients {
		own := byPatient[p.ID]

		completed := 0
		var last, next *time.Time
		for _, s := range own {
			if s.Status == records.SessionCompleted {
				completed++
			}
			d := s.Date
			if !d.After(now) {
				if last == nil || d.After(*last) {
					last = &d
				}
			} else if s.Status == records.SessionScheduled {
				if next == nil || d.Before(*next) {
					next = &d
				}
			}
		}

		avgImp := averageImprovement(improvements[p.ID])
		summaries = append(summaries, PatientSummary{
			PatientID:          p.ID,
			Name:               p.FullName(),
			PredominantEmotion: predominantEmotion(own),
			ActiveAlerts:       riskAlertWeight(risk.Score(p).RiskLevel),
			Progress:           clamp(0, 100, 50+avgImp*10),
			Adherence:          SafePercent(float64(completed), float64(len(own))),
			LastSession:        last,
			NextSession:        next,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Progress != summaries[j].Progress {
			return summaries[i].Progress > summaries[j].Progress
		}
		return summaries[i].Name < summaries[j].Name
	})
	return summaries
}
