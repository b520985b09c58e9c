package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/privaudit/internal/types"
)

const pdfTopAssets = 10

type rgb struct{ r, g, b int }

var (
	colorText    = rgb{31, 41, 55}
	colorMuted   = rgb{107, 114, 128}
	colorGreen   = rgb{16, 185, 129}  // #10b981
	colorRed     = rgb{239, 68, 68}   // #ef4444
	colorAmber   = rgb{245, 158, 11}  // #f59e0b
	colorHeading = rgb{17, 24, 39}
	colorRule    = rgb{229, 231, 235}
)

// PDFInput is what a PDF report is rendered from. Snapshot and
// Verification are optional.
type PDFInput struct {
	Report       *types.ReportData
	Snapshot     *types.TreasurySnapshot
	Verification *types.VerificationResult
	GeneratedAt  time.Time
}

// RenderPDF renders the report as an A4 PDF document
func RenderPDF(in PDFInput) ([]byte, error) {
	return renderPDF(in, true)
}

func renderPDF(in PDFInput, compress bool) ([]byte, error) {
	if in.Report == nil {
		return nil, fmt.Errorf("report data is required")
	}
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = time.Now()
	}
	r := in.Report

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(compress)
	pdf.SetTitle("PrivAudit Treasury Report", false)
	pdf.SetCreator("PrivAudit", false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	setColor := func(c rgb) { pdf.SetTextColor(c.r, c.g, c.b) }
	heading := func(title string) {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "B", 14)
		setColor(colorHeading)
		pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
		pdf.SetDrawColor(colorRule.r, colorRule.g, colorRule.b)
		pdf.Line(20, pdf.GetY(), 190, pdf.GetY())
		pdf.Ln(2)
	}
	row := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 10)
		setColor(colorMuted)
		pdf.CellFormat(55, 6, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		setColor(colorText)
		pdf.CellFormat(0, 6, tr(value), "", 1, "L", false, 0, "")
	}

	// Title
	pdf.SetFont("Helvetica", "B", 22)
	setColor(colorHeading)
	pdf.CellFormat(0, 12, "PrivAudit Treasury Report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	setColor(colorMuted)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated on %s | Privacy-Preserving Analysis",
		in.GeneratedAt.UTC().Format("January 2, 2006")), "", 1, "L", false, 0, "")

	// Verification badge
	verified := r.ProofVerified
	if in.Verification != nil {
		verified = in.Verification.IsValid
	}
	badge, badgeColor := "Verification Failed", colorRed
	if verified {
		badge, badgeColor = "Verified", colorGreen
	}
	pdf.Ln(3)
	pdf.SetFillColor(badgeColor.r, badgeColor.g, badgeColor.b)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(pdf.GetStringWidth(badge)+10, 7, badge, "", 1, "C", true, 0, "")

	heading("DAO Information")
	row("Name", r.DAOName)
	row("Address", r.DAOAddress)
	network := "ethereum"
	if in.Snapshot != nil && in.Snapshot.Network != "" {
		network = in.Snapshot.Network
	}
	row("Network", network)
	row("Analysis Date", r.ReportDate)
	if r.ProofHash != "" {
		row("Proof Hash", r.ProofHash)
	}

	m := r.Metrics
	heading("Key Financial Metrics")
	row("Net Worth", "$"+FormatUSD(m.NetWorth))
	row("Total Assets", "$"+FormatUSD(m.TotalAssets))
	row("Total Liabilities", "$"+FormatUSD(m.TotalLiabilities))
	ratio := "unbounded (no liabilities)"
	if m.SolvencyRatio != nil {
		ratio = fmt.Sprintf("%.2f:1", *m.SolvencyRatio)
	}
	row("Solvency Ratio", ratio)
	row("Runway", fmt.Sprintf("%.1f months", m.RunwayMonths))
	row("Stablecoin Allocation", fmt.Sprintf("%.1f%%", m.AssetDiversification.Stablecoins))

	if in.Snapshot != nil && len(in.Snapshot.Assets) > 0 {
		heading("Asset Breakdown")
		widths := []float64{45, 50, 45, 30}
		pdf.SetFont("Helvetica", "B", 10)
		setColor(colorMuted)
		for i, h := range []string{"Asset", "Balance", "Value (USD)", "% of Total"} {
			pdf.CellFormat(widths[i], 7, h, "B", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Helvetica", "", 10)
		setColor(colorText)
		for _, a := range TopAssets(in.Snapshot.Assets, pdfTopAssets) {
			share := 0.0
			if m.TotalAssets > 0 {
				share = a.ValueUSD / m.TotalAssets * 100
			}
			pdf.CellFormat(widths[0], 6, tr(a.Symbol), "", 0, "L", false, 0, "")
			pdf.CellFormat(widths[1], 6, FormatBalance(a), "", 0, "L", false, 0, "")
			pdf.CellFormat(widths[2], 6, "$"+FormatUSD(a.ValueUSD), "", 0, "L", false, 0, "")
			pdf.CellFormat(widths[3], 6, fmt.Sprintf("%.1f%%", share), "", 1, "L", false, 0, "")
		}
	}

	heading("Risk Assessment")
	pdf.SetFont("Helvetica", "B", 12)
	setColor(riskColor(r.RiskAssessment))
	pdf.CellFormat(0, 7, r.RiskAssessment, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	setColor(colorText)
	pdf.MultiCell(0, 5, tr(r.Summary), "", "L", false)

	heading("Recommendations")
	pdf.SetFont("Helvetica", "", 10)
	setColor(colorText)
	for i, rec := range r.Recommendations {
		pdf.MultiCell(0, 5, tr(fmt.Sprintf("%d. %s", i+1, rec)), "", "L", false)
		pdf.Ln(1)
	}

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "I", 8)
	setColor(colorMuted)
	pdf.MultiCell(0, 4, "This report was generated using privacy-preserving zero-knowledge techniques. "+
		"No sensitive treasury data was exposed during the analysis process.", "", "C", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func riskColor(label string) rgb {
	switch label {
	case RiskLabelLow:
		return colorGreen
	case RiskLabelMedium:
		return colorAmber
	default:
		return colorRed
	}
}
