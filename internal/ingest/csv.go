package ingest

import (
	"encoding/csv"
	"fmt"
	"io"

	"wisefido-triage/internal/models"
)

// LoadCSV 解析 CSV（首行为表头）
func (l *Loader) LoadCSV(r io.Reader) (models.VitalsSeries, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return l.rowsToSeries(rows)
}
