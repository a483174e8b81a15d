package analytics

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ExportJSON serializes the analytics result directly; parsing it back yields
// the original values field for field.
func ExportJSON(res *Result) ([]byte, error) {
	return json.MarshalIndent(res, "", "  ")
}

// ExportCSV renders the fixed metric/value/description table expected by the
// reporting consumers: a header plus exactly eight metric rows, in this
// order. Column order is part of the contract.
func ExportCSV(res *Result) ([]byte, error) {
	mainReason := "N/A"
	if len(res.ConsultationReasons) > 0 {
		mainReason = res.ConsultationReasons[0].Reason
	}

	rows := [][]string{
		{"Métrica", "Valor", "Descripción"},
		{"Sesiones totales", fmt.Sprintf("%d", res.TotalSessions), "Número total de sesiones en el periodo"},
		{"Sesiones completadas", fmt.Sprintf("%d", res.CompletedSessions), "Sesiones finalizadas con asistencia"},
		{"Tasa de cancelación", fmt.Sprintf("%.1f%%", res.CancellationRate), "Porcentaje de sesiones canceladas"},
		{"Tasa de adherencia", fmt.Sprintf("%.1f%%", res.AdherenceRate), "Sesiones completadas sobre programadas"},
		{"Ingresos totales", fmt.Sprintf("%.2f", res.TotalRevenue), "Suma de costes de sesiones completadas"},
		{"Pacientes activos", fmt.Sprintf("%d", res.ActivePatients), "Pacientes en seguimiento activo"},
		{"Mejora emocional promedio", fmt.Sprintf("%.2f", res.AverageImprovement), "Diferencia media de tono post menos pre"},
		{"Motivo principal de consulta", mainReason, "Diagnóstico más frecuente entre los pacientes"},
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Export renders the result in the requested format.
func Export(res *Result, format string) ([]byte, string, error) {
	switch format {
	case FormatCSV:
		data, err := ExportCSV(res)
		return data, "text/csv", err
	case FormatJSON, "":
		data, err := ExportJSON(res)
		return data, "application/json", err
	default:
		return nil, "", fmt.Errorf("unsupported export format: %s", format)
	}
}
