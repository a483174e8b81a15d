// Package risk derives a patient's risk tier from current clinical fields.
// Scoring is a pure function: the stored risk_level column is never an input,
// only a display cache refreshed from this result.
package risk

import (
	"strings"

	"github.com/psiquecare/psiquecare/internal/domain/records"
)

// Result explains a risk score: the tier, the accumulated point total, the
// human-readable contributing factors and the fixed recommendation list for
// the tier.
type Result struct {
	RiskLevel       string   `json:"risk_level"`
	Score           int      `json:"score"`
	Factors         []string `json:"factors"`
	Recommendations []string `json:"recommendations"`
}

// Substrings scanned for in previous diagnoses, lowercase. Matches in Spanish
// and English clinical notes.
var riskKeywords = []string{
	"suicid",
	"autolesi",
	"autolisis",
	"self-harm",
	"selfharm",
	"sobredosis",
	"overdose",
}

var tierRecommendations = map[string][]string{
	records.RiskCritical: {
		"Evaluación de riesgo inmediata",
		"Considerar hospitalización",
		"Activar contacto de emergencia",
	},
	records.RiskHigh: {
		"Sesiones semanales",
		"Elaborar plan de seguridad",
		"Revisar medicación con psiquiatría",
	},
	records.RiskMedium: {
		"Seguimiento quincenal",
		"Reevaluar escalas clínicas en 4 semanas",
	},
	records.RiskLow: {
		"Seguimiento habitual",
	},
}

// Score computes the risk tier for one patient. Deterministic, no I/O.
// Points are additive; within each scale only the highest band applies.
// Absent optional scores contribute nothing.
func Score(p *records.Patient) Result {
	score := 0
	var factors []string

	if p.PHQ9Score != nil {
		switch s := *p.PHQ9Score; {
		case s >= 20:
			score += 30
			factors = append(factors, "PHQ-9 severo (≥20)")
		case s >= 15:
			score += 20
			factors = append(factors, "PHQ-9 moderadamente severo (15-19)")
		case s >= 10:
			score += 10
			factors = append(factors, "PHQ-9 moderado (10-14)")
		}
	}

	if p.GAD7Score != nil {
		switch s := *p.GAD7Score; {
		case s >= 15:
			score += 25
			factors = append(factors, "GAD-7 severo (≥15)")
		case s >= 10:
			score += 15
			factors = append(factors, "GAD-7 moderado (10-14)")
		}
	}

	if hasRiskKeyword(p.MedicalHistory.PreviousDiagnoses) {
		score += 40
		factors = append(factors, "Antecedentes de ideación suicida o autolesión")
	}

	if p.TotalSessions < 3 {
		score += 15
		factors = append(factors, "Baja adherencia al tratamiento (<3 sesiones)")
	}

	level := tierFor(score)
	return Result{
		RiskLevel:       level,
		Score:           score,
		Factors:         factors,
		Recommendations: tierRecommendations[level],
	}
}

func tierFor(score int) string {
	switch {
	case score >= 60:
		return records.RiskCritical
	case score >= 40:
		return records.RiskHigh
	case score >= 20:
		return records.RiskMedium
	default:
		return records.RiskLow
	}
}

func hasRiskKeyword(diagnoses []string) bool {
	for _, d := range diagnoses {
		lower := strings.ToLower(d)
		for _, kw := range riskKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// IsElevated reports whether a tier counts toward the at-risk patient total.
func IsElevated(level string) bool {
	return level == records.RiskHigh || level == records.RiskCritical
}
