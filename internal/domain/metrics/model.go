package metrics

import (
	"time"

	"github.com/google/uuid"
)

// TherapistUtilization is one therapist's share of capacity in use.
type TherapistUtilization struct {
	TherapistID uuid.UUID `json:"therapist_id"`
	Name        string    `json:"name"`
	Utilization float64   `json:"utilization"`
}

// ClinicalMetrics is the aggregated operational and clinical snapshot for
// one center. Instances are immutable: every computation allocates a new
// value, so concurrent readers never observe a partially updated result.
type ClinicalMetrics struct {
	CenterID             string                 `json:"center_id"`
	TotalPatients        int                    `json:"total_patients"`
	RiskPatients         int                    `json:"risk_patients"`
	AveragePHQ9          float64                `json:"average_phq9"`
	AverageGAD7          float64                `json:"average_gad7"`
	CancellationRate     float64                `json:"cancellation_rate"`
	NoShowRate           float64                `json:"no_show_rate"`
	AdherenceRate        float64                `json:"adherence_rate"`
	TherapistUtilization []TherapistUtilization `json:"therapist_utilization"`
	OccupancyRate        float64                `json:"occupancy_rate"`
	ImprovementRate      float64                `json:"improvement_rate"`
	DischargeRate        float64                `json:"discharge_rate"`
	ActiveAlerts         int                    `json:"active_alerts"`
	LastUpdated          time.Time              `json:"last_updated"`
}
