package ingest

import (
	"encoding/json"
	"fmt"

	"wisefido-triage/internal/models"
)

// LoadJSONRecords 解析 JSON 提交的记录
// 每条记录都必须带齐必需字段（值可以为 null），缺失时返回 ValidationError
func (l *Loader) LoadJSONRecords(raw []json.RawMessage) (models.VitalsSeries, error) {
	if len(raw) == 0 {
		return nil, models.ErrEmptySeries
	}

	missingSet := make(map[string]bool)
	series := make(models.VitalsSeries, 0, len(raw))
	for i, item := range raw {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(item, &keys); err != nil {
			return nil, fmt.Errorf("failed to decode record %d: %w", i+1, err)
		}
		for _, col := range models.RequiredColumns {
			if _, ok := keys[col]; !ok {
				missingSet[col] = true
			}
		}

		var rec models.VitalsRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record %d: %w", i+1, err)
		}
		series = append(series, rec)
	}

	if len(missingSet) > 0 {
		var missing []string
		for _, col := range models.RequiredColumns {
			if missingSet[col] {
				missing = append(missing, col)
			}
		}
		return nil, models.NewMissingColumnsError(missing)
	}

	l.parseTimestamps(series)
	return series, nil
}
