package ingest

import (
	"fmt"
	"io"

	"wisefido-triage/internal/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// LoadXLSX 解析 Excel 工作簿的第一个工作表（首行为表头）
func (l *Loader) LoadXLSX(r io.Reader) (models.VitalsSeries, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Excel file: %w", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	l.logger.Debug("Loaded workbook",
		zap.String("sheet", sheetName),
		zap.Int("rows", len(rows)),
	)
	return l.rowsToSeries(rows)
}
