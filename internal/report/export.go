// Package report exports emergency history to spreadsheets
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/savegress/vitalguard/pkg/models"
)

// SheetName is the worksheet holding the emergency history
const SheetName = "Emergencies"

// ContentType is the MIME type of the exported workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Header lists the exported columns
var Header = []string{
	"Response ID",
	"Triggered At",
	"Severity",
	"Status",
	"Heart Rate",
	"Blood Pressure",
	"Temperature",
	"Oxygen Saturation",
	"Actions",
	"Acknowledged At",
	"Resolved At",
}

var columnWidths = []float64{38, 22, 10, 14, 12, 16, 12, 18, 36, 22, 22}

var severityFill = map[models.SeverityTier]string{
	models.SeverityCritical: "#F8CBAD",
	models.SeverityUrgent:   "#FFE699",
	models.SeverityWarning:  "#DDEBF7",
}

// EmergencyHistory renders a user's responses as an xlsx workbook, one row
// per response in the given order
func EmergencyHistory(userID string, responses []*models.EmergencyResponse) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Emergency history",
		Subject: userID,
		Creator: "VitalGuard",
	}); err != nil {
		return nil, fmt.Errorf("failed to set document properties: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	severityStyles := make(map[models.SeverityTier]int, len(severityFill))
	for tier, color := range severityFill {
		style, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create severity style: %w", err)
		}
		severityStyles[tier] = style
	}

	for col, header := range Header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(SheetName, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}

		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(SheetName, name, name, columnWidths[col]); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, resp := range responses {
		row := i + 2
		values := rowValues(resp)
		if err := f.SetSheetRow(SheetName, fmt.Sprintf("A%d", row), &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", row, err)
		}
		if style, ok := severityStyles[resp.Severity]; ok {
			cell := fmt.Sprintf("C%d", row)
			if err := f.SetCellStyle(SheetName, cell, cell, style); err != nil {
				return nil, fmt.Errorf("failed to set severity style: %w", err)
			}
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName returns the download name for a user's export
func FileName(userID string, at time.Time) string {
	return fmt.Sprintf("emergencies_%s_%s.xlsx", userID, at.UTC().Format("20060102_150405"))
}

func rowValues(resp *models.EmergencyResponse) []interface{} {
	v := resp.VitalsData
	actions := make([]string, 0, len(resp.ResponseActions))
	for _, a := range resp.ResponseActions {
		label := fmt.Sprintf("%d:%s", a.Priority, a.Type)
		if a.Executed {
			label += " (done)"
		}
		actions = append(actions, label)
	}

	return []interface{}{
		resp.ID,
		formatTime(&resp.TriggerTime),
		string(resp.Severity),
		string(resp.Status),
		optional(v.HeartRate),
		bloodPressure(v.BloodPressure),
		optional(v.Temperature),
		optional(v.OxygenSaturation),
		strings.Join(actions, ", "),
		formatTime(resp.AcknowledgedAt),
		formatTime(resp.ResolvedAt),
	}
}

func optional(f *float64) interface{} {
	if f == nil {
		return ""
	}
	return *f
}

func bloodPressure(bp *models.BloodPressure) string {
	if bp == nil {
		return ""
	}
	return fmt.Sprintf("%g/%g", bp.Systolic, bp.Diastolic)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
