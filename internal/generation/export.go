package generation

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/nikhilbhutani/docissue/internal/models"
)

const (
	sheetSummary  = "Summary"
	sheetFailures = "Failures"
	sheetWarnings = "Warnings"
)

// ReportXLSX renders a batch report as a workbook with summary, failure and
// warning sheets.
func ReportXLSX(b *models.Batch) ([]byte, error) {
	report := b.Report
	if report == nil {
		report = &models.BatchReport{}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	summary := [][]interface{}{
		{"Batch", b.ID.String()},
		{"Template", b.TemplateID.String()},
		{"Status", b.Status},
		{"Total", report.Total},
		{"Succeeded", report.Succeeded},
		{"Skipped", report.Skipped},
		{"Failed", report.Failed},
		{"Pending", report.Pending},
		{"Cancelled", report.Cancelled},
	}
	if err := writeRows(f, sheetSummary, summary); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheetSummary, "A1", fmt.Sprintf("A%d", len(summary)), header); err != nil {
		return nil, fmt.Errorf("style summary: %w", err)
	}

	failures := [][]interface{}{{"Student ID", "Reason"}}
	for _, fl := range report.Failures {
		failures = append(failures, []interface{}{fl.StudentID.String(), fl.Reason})
	}
	if err := addSheet(f, sheetFailures, failures, header); err != nil {
		return nil, err
	}

	warnings := [][]interface{}{{"Student ID", "Message"}}
	for _, w := range report.Warnings {
		warnings = append(warnings, []interface{}{w.StudentID.String(), w.Message})
	}
	if err := addSheet(f, sheetWarnings, warnings, header); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func addSheet(f *excelize.File, name string, rows [][]interface{}, header int) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	if err := writeRows(f, name, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(name, "A1", "B1", header); err != nil {
		return fmt.Errorf("style %s header: %w", name, err)
	}
	if err := f.SetColWidth(name, "A", "A", 38); err != nil {
		return fmt.Errorf("set %s width: %w", name, err)
	}
	return f.SetColWidth(name, "B", "B", 80)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
