// Package report assembles the session's Excel report artifact.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/minhvn/holescan/internal/models"
)

// Builder is the report-writer port consumed by the finalizing worker.
type Builder interface {
	Build(ctx context.Context, records []models.ResultRecord) ([]byte, error)
}

const sheetName = "Processing Results"

var headers = []any{"File Name", "Hole Codes Found", "Status", "PDF Link"}

// ExcelBuilder renders matched results as an xlsx workbook: one header row
// plus one row per item that produced at least one code match.
type ExcelBuilder struct{}

func NewExcelBuilder() *ExcelBuilder {
	return &ExcelBuilder{}
}

func (b *ExcelBuilder) Build(ctx context.Context, records []models.ResultRecord) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheetName, "A1", &headers); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	row := 2
	for _, rec := range records {
		if !rec.Outcome.Matched() {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		values := []any{
			rec.ItemRef,
			strings.Join(rec.Outcome.FoundCodes, ", "),
			rec.Outcome.Status,
			rec.Outcome.Link,
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
		row++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
