package report

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"example.com/telemgate/internal/telem"
)

// SaveCatalogPDF renders the message catalog into a PDF document with
// the dictionary digest embedded as a QR code on the title page.
func SaveCatalogPDF(doc CatalogDocument, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Message Catalog", false)
	pdf.SetAuthor("telemctl", false)
	pdf.SetCreator("telemctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Message Catalog")
	addDigestQR(pdf, doc.Digest)
	addSummarySection(pdf, doc)
	addMessagesSection(pdf, doc.Messages)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addDigestQR(pdf *gofpdf.Fpdf, digest string) {
	png, err := DictionaryDigestQR(digest, 256)
	if err != nil {
		return
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("dict-digest-qr", opts, bytes.NewReader(png))
	pdf.ImageOptions("dict-digest-qr", 163, 18, 32, 32, false, opts, 0, "")
}

func addSummarySection(pdf *gofpdf.Fpdf, doc CatalogDocument) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	senders := make(map[string]struct{})
	labels := 0
	for _, entry := range doc.Messages {
		senders[entry.Sender] = struct{}{}
		labels += len(entry.FieldLabels)
	}

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "Dictionary", value: emptyFallback(doc.Dictionary, "-")},
		{label: "Digest", value: shortDigest(doc.Digest)},
		{label: "Rows Decoded", value: strconv.FormatInt(doc.Rows, 10)},
		{label: "Samples", value: strconv.FormatInt(doc.Samples, 10)},
		{label: "Unique Messages", value: strconv.Itoa(len(doc.Messages))},
		{label: "Device Families", value: strconv.Itoa(len(senders))},
		{label: "Field Labels", value: strconv.Itoa(labels)},
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addMessagesSection(pdf *gofpdf.Fpdf, entries []telem.UniqueMessageEntry) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Messages")
	pdf.Ln(9)

	if len(entries) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No messages decoded.", "", "L", false)
		return
	}

	headers := []string{"Identity", "Sender", "Fields"}
	widths := []float64{48, 28, 104}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	lineHeight := 5.0
	for _, entry := range entries {
		values := []string{
			entry.Identity,
			entry.Sender,
			strings.Join(entry.FieldLabels, ", "),
		}
		renderTableRow(pdf, widths, values, lineHeight)
	}
	pdf.Ln(4)
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		cellText := strings.Join(lines, "\n")
		pdf.MultiCell(widths[i], lineHeight, cellText, "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func shortDigest(digest string) string {
	trimmed := strings.TrimSpace(digest)
	if trimmed == "" {
		return "-"
	}
	if len(trimmed) > 16 {
		return trimmed[:16] + "..."
	}
	return trimmed
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
