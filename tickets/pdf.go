package tickets

import (
	"bytes"
	"fmt"

	"eventhub/models"

	"github.com/phpdave11/gofpdf"
)

// RenderPDF prints a single-page A4 ticket with its QR code.
func RenderPDF(t models.Ticket, ev models.Event) ([]byte, error) {
	qr, err := QRPNG(t, 256)
	if err != nil {
		return nil, fmt.Errorf("qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 20)
	pdf.CellFormat(0, 15, ev.Title, "", 1, "C", false, 0, "")
	pdf.Ln(5)

	when := ev.Schedule.Start.Format("Mon 02 Jan 2006 15:04")
	if ev.Schedule.Timezone != "" {
		when += " (" + ev.Schedule.Timezone + ")"
	}
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 8, fmt.Sprintf(
		"Venue: %s, %s\nWhen: %s\nTicket type: %s x %d\nTotal paid: %s %s\nTicket: %s\nCode: %s",
		ev.Venue.Name, ev.Venue.City,
		when,
		t.Tier, t.Quantity,
		t.TotalAmount.StringFixed(2), t.Currency,
		t.ID,
		t.Code,
	), "", "L", false)

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(qr))
	pdf.ImageOptions("qr", 140, 45, 50, 50, false, opts, 0, "")

	pdf.SetY(-30)
	pdf.SetFont("Arial", "I", 10)
	pdf.CellFormat(0, 10, "Show this ticket at entry. Each code admits once.", "T", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
