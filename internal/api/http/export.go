package apihttp

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"energy-insight/internal/analytics/aggregate"
	"energy-insight/internal/analytics/anomaly"
	"energy-insight/internal/analytics/cost"
	"energy-insight/internal/analytics/efficiency"
	"energy-insight/internal/audit"
	"energy-insight/internal/auth"
	"energy-insight/internal/observability/metrics"
)

// ReportData bundles everything a consumption report renders.
type ReportData struct {
	GeneratedAt time.Time
	DaysBack    int
	Stats       aggregate.Statistics
	Devices     []aggregate.DeviceUsage
	Score       efficiency.Score
	Cost        cost.Analysis
	Anomalies   []anomaly.Anomaly
}

// BuildReportXLSX renders a consumption report workbook with a summary
// sheet and a per-device sheet.
func BuildReportXLSX(data ReportData) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summary := "summary"
	f.SetSheetName("Sheet1", summary)
	_ = f.SetCellValue(summary, "A1", "Energy Consumption Report")
	_ = f.SetCellValue(summary, "A2", "Generated")
	_ = f.SetCellValue(summary, "B2", data.GeneratedAt.Format(timeLayout))
	_ = f.SetCellValue(summary, "A3", "Period (days)")
	_ = f.SetCellValue(summary, "B3", data.DaysBack)
	_ = f.SetCellValue(summary, "A4", "Total consumption (kWh)")
	_ = f.SetCellValue(summary, "B4", data.Stats.TotalConsumption)
	_ = f.SetCellValue(summary, "A5", "Average daily (kWh)")
	_ = f.SetCellValue(summary, "B5", data.Stats.AverageDaily)
	_ = f.SetCellValue(summary, "A6", "Total cost")
	_ = f.SetCellValue(summary, "B6", data.Stats.TotalCost)
	_ = f.SetCellValue(summary, "A7", "Projected monthly cost")
	_ = f.SetCellValue(summary, "B7", data.Cost.ProjectedMonthlyCost)
	_ = f.SetCellValue(summary, "A8", "Efficiency score")
	_ = f.SetCellValue(summary, "B8", data.Score.Value)
	_ = f.SetCellValue(summary, "A9", "Efficiency grade")
	_ = f.SetCellValue(summary, "B9", data.Score.Grade)

	devices := "devices"
	if _, err := f.NewSheet(devices); err != nil {
		return nil, fmt.Errorf("create devices sheet: %w", err)
	}
	headers := []string{"Device", "Total kWh", "Avg kWh", "Readings", "Share %", "Cost"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(devices, cell, header)
	}
	for i, device := range data.Devices {
		row := i + 2
		_ = f.SetCellValue(devices, fmt.Sprintf("A%d", row), device.DeviceName)
		_ = f.SetCellValue(devices, fmt.Sprintf("B%d", row), device.Total)
		_ = f.SetCellValue(devices, fmt.Sprintf("C%d", row), device.Mean)
		_ = f.SetCellValue(devices, fmt.Sprintf("D%d", row), device.ReadingCount)
		_ = f.SetCellValue(devices, fmt.Sprintf("E%d", row), device.Percentage)
		_ = f.SetCellValue(devices, fmt.Sprintf("F%d", row), device.Cost)
	}

	anomalies := "anomalies"
	if _, err := f.NewSheet(anomalies); err != nil {
		return nil, fmt.Errorf("create anomalies sheet: %w", err)
	}
	anomalyHeaders := []string{"Detected", "Device", "Type", "Severity", "Message"}
	for i, header := range anomalyHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(anomalies, cell, header)
	}
	for i, item := range data.Anomalies {
		row := i + 2
		_ = f.SetCellValue(anomalies, fmt.Sprintf("A%d", row), item.Timestamp.Format(timeLayout))
		_ = f.SetCellValue(anomalies, fmt.Sprintf("B%d", row), item.DeviceName)
		_ = f.SetCellValue(anomalies, fmt.Sprintf("C%d", row), string(item.Type))
		_ = f.SetCellValue(anomalies, fmt.Sprintf("D%d", row), string(item.Severity))
		_ = f.SetCellValue(anomalies, fmt.Sprintf("E%d", row), item.Message)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildReportPDF renders the same report as a printable PDF.
func BuildReportPDF(data ReportData) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, "Energy Consumption Report")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Generated: %s", data.GeneratedAt.Format(timeLayout)))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Period: last %d days", data.DaysBack))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Total consumption: %.2f kWh", data.Stats.TotalConsumption))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Average daily: %.2f kWh", data.Stats.AverageDaily))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Total cost: %.2f", data.Stats.TotalCost))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Projected monthly cost: %.2f", data.Cost.ProjectedMonthlyCost))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Efficiency: %.1f (%s)", data.Score.Value, data.Score.Grade))
	pdf.Ln(12)

	pdf.SetFont("Arial", "B", 11)
	widths := []float64{60, 30, 30, 25, 20, 25}
	headers := []string{"Device", "Total kWh", "Avg kWh", "Readings", "Share %", "Cost"}
	for i, header := range headers {
		pdf.CellFormat(widths[i], 8, header, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, device := range data.Devices {
		pdf.CellFormat(widths[0], 7, device.DeviceName, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, fmt.Sprintf("%.2f", device.Total), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 7, fmt.Sprintf("%.3f", device.Mean), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, fmt.Sprintf("%d", device.ReadingCount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 7, fmt.Sprintf("%.1f", device.Percentage), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[5], 7, fmt.Sprintf("%.2f", device.Cost), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if len(data.Score.Recommendations) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 11)
		pdf.Cell(0, 8, "Recommendations")
		pdf.Ln(8)
		pdf.SetFont("Arial", "", 10)
		for _, rec := range data.Score.Recommendations {
			pdf.Cell(0, 6, "- "+rec)
			pdf.Ln(6)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportHandler serves downloadable reports and anomaly exports.
type ExportHandler struct {
	aggregator  *aggregate.Aggregator
	scorer      *efficiency.Scorer
	analyzer    *cost.Analyzer
	repository  anomaly.Repository
	auditLogger audit.Logger
	now         func() time.Time
}

// NewExportHandler constructs an ExportHandler. The anomaly repository
// may be nil; the anomalies CSV then reports 503. The audit logger may
// be nil.
func NewExportHandler(aggregator *aggregate.Aggregator, scorer *efficiency.Scorer, analyzer *cost.Analyzer, repository anomaly.Repository, auditLogger audit.Logger) *ExportHandler {
	return &ExportHandler{
		aggregator:  aggregator,
		scorer:      scorer,
		analyzer:    analyzer,
		repository:  repository,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

func (h *ExportHandler) logAudit(r *http.Request, resourceID string) {
	if h.auditLogger == nil {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "export.download",
		ResourceType: "export",
		ResourceID:   resourceID,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

// ServeHTTP handles the /api/v1/exports endpoints.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.aggregator == nil || h.scorer == nil || h.analyzer == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	switch r.URL.Path {
	case "/api/v1/exports/report.xlsx":
		h.serveReport(w, r, "xlsx")
	case "/api/v1/exports/report.pdf":
		h.serveReport(w, r, "pdf")
	case "/api/v1/exports/anomalies.csv":
		h.serveAnomaliesCSV(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *ExportHandler) serveReport(w http.ResponseWriter, r *http.Request, format string) {
	start := h.now()
	days, err := parseIntQuery(r, "days", 30)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	data := ReportData{
		GeneratedAt: h.now().UTC(),
		DaysBack:    days,
		Stats:       h.aggregator.Statistics(ctx, days),
		Devices:     h.aggregator.DeviceBreakdown(ctx, days),
		Score:       h.scorer.Score(ctx, days),
		Cost:        h.analyzer.Analyze(ctx, days),
	}
	if h.repository != nil {
		if recent, err := h.repository.RecentAnomalies(ctx, days*24); err == nil {
			data.Anomalies = recent
		}
	}

	var payload []byte
	var contentType, filename string
	switch format {
	case "xlsx":
		payload, err = BuildReportXLSX(data)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		filename = "energy-report.xlsx"
	case "pdf":
		payload, err = BuildReportPDF(data)
		contentType = "application/pdf"
		filename = "energy-report.pdf"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, h.now().Sub(start))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(payload)
	h.logAudit(r, filename)
	metrics.ObserveExport(format, metrics.ResultSuccess, h.now().Sub(start))
}

func (h *ExportHandler) serveAnomaliesCSV(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	if h.repository == nil {
		http.Error(w, "anomaly storage not configured", http.StatusServiceUnavailable)
		return
	}
	hours, err := parseIntQuery(r, "hours", 168)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	anomalies, err := h.repository.RecentAnomalies(r.Context(), hours)
	if err != nil {
		metrics.ObserveExport("csv", metrics.ResultError, h.now().Sub(start))
		http.Error(w, "query anomalies error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="anomalies.csv"`)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"detected_at", "device_name", "type", "severity", "message"})
	for _, item := range anomalies {
		_ = writer.Write([]string{
			item.Timestamp.Format(timeLayout),
			item.DeviceName,
			string(item.Type),
			string(item.Severity),
			item.Message,
		})
	}
	writer.Flush()
	h.logAudit(r, "anomalies.csv")
	metrics.ObserveExport("csv", metrics.ResultSuccess, h.now().Sub(start))
}
