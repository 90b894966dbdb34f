// Package receipt renders receipts as ID-card sized documents: an HTML
// print document with a click-to-flip preview and a PDF with one page per
// card face.
package receipt

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

// Card dimensions in millimetres (ISO/IEC 7810 ID-1).
const (
	CardWidthMM  = 85.6
	CardHeightMM = 54.0
)

//go:embed templates/receipt.html.tmpl
var templatesFS embed.FS

var htmlTemplate = template.Must(template.ParseFS(templatesFS, "templates/receipt.html.tmpl"))

// Renderer implements port.ReceiptRenderer.
type Renderer struct {
	qrSize int
}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{qrSize: 256}
}

type htmlCard struct {
	domain.Card
	QR   template.URL
	Last bool
}

type htmlView struct {
	Receipt *domain.Receipt
	Total   string
	Cards   []htmlCard
}

// RenderHTML writes the print document.
func (rr *Renderer) RenderHTML(w io.Writer, r *domain.Receipt) error {
	view := htmlView{Receipt: r, Total: r.Total.StringFixed(2)}
	for i, c := range r.Cards {
		png, err := rr.qr(c.Recto.QRPayload)
		if err != nil {
			return err
		}
		view.Cards = append(view.Cards, htmlCard{
			Card: c,
			QR:   template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)),
			Last: i == len(r.Cards)-1,
		})
	}
	if err := htmlTemplate.Execute(w, view); err != nil {
		return fmt.Errorf("render receipt html: %w", err)
	}
	return nil
}

// RenderPDF writes a PDF whose pages are the card faces, recto then verso
// for every card.
func (rr *Renderer) RenderPDF(w io.Writer, r *domain.Receipt) error {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: CardWidthMM, Ht: CardHeightMM},
	})
	pdf.SetMargins(3, 3, 3)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("Receipt "+r.DeclarationReference, true)
	pdf.SetCreator(r.Issuer, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for _, c := range r.Cards {
		png, err := rr.qr(c.Recto.QRPayload)
		if err != nil {
			return err
		}
		imgName := fmt.Sprintf("qr-%d", c.Index)
		pdf.RegisterImageOptionsReader(imgName, gofpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(png))

		rr.recto(pdf, tr, r, c, imgName)
		rr.verso(pdf, tr, c)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render receipt pdf: %w", err)
	}
	return pdf.Output(w)
}

func (rr *Renderer) recto(pdf *gofpdf.Fpdf, tr func(string) string, r *domain.Receipt, c domain.Card, img string) {
	pdf.AddPage()
	pdf.SetDrawColor(138, 143, 150)
	pdf.RoundedRect(1, 1, CardWidthMM-2, CardHeightMM-2, 3, "1234", "D")

	pdf.SetFont("Arial", "B", 8)
	pdf.CellFormat(0, 4, tr(r.Issuer), "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 7)
	pdf.CellFormat(0, 3.5, tr(c.Recto.HolderName), "", 1, "L", false, 0, "")
	if c.Recto.Address != "" {
		pdf.CellFormat(55, 3.5, tr(c.Recto.Address), "", 1, "L", false, 0, "")
	}

	pdf.Ln(1)
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 7, tr(c.Recto.Plate), "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 7)
	pdf.CellFormat(0, 3.5, tr("Délivré le "+c.Recto.IssueDate), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 3.5, tr("Montant : "+c.Recto.Amount), "", 1, "L", false, 0, "")
	if r.Preview {
		pdf.SetTextColor(176, 0, 32)
		pdf.SetFont("Arial", "B", 7)
		pdf.CellFormat(0, 3.5, tr("APERÇU"), "", 1, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}

	const qr = 18.0
	pdf.ImageOptions(img, CardWidthMM-3-qr, CardHeightMM-3-qr, qr, qr, false, gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
}

func (rr *Renderer) verso(pdf *gofpdf.Fpdf, tr func(string) string, c domain.Card) {
	pdf.AddPage()
	pdf.SetDrawColor(138, 143, 150)
	pdf.RoundedRect(1, 1, CardWidthMM-2, CardHeightMM-2, 3, "1234", "D")

	pdf.SetFont("Arial", "", 6.5)
	const labelW = 34.0
	for _, a := range c.Verso.Attributes {
		if pdf.GetY() > CardHeightMM-10 {
			break
		}
		pdf.SetTextColor(85, 85, 85)
		pdf.CellFormat(labelW, 3.2, tr(a.Label), "", 0, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.CellFormat(0, 3.2, tr(a.Value), "", 1, "L", false, 0, "")
	}

	pdf.SetDashPattern([]float64{0.8, 0.5}, 0)
	pdf.Line(3, CardHeightMM-7, CardWidthMM-3, CardHeightMM-7)
	pdf.SetDashPattern([]float64{}, 0)
	pdf.SetXY(3, CardHeightMM-6.5)
	pdf.SetFont("Arial", "", 6)
	pdf.CellFormat(0, 3, tr(c.Verso.Signatory+" · Réf. "+c.Verso.Reference), "", 1, "L", false, 0, "")
}

func (rr *Renderer) qr(payload string) ([]byte, error) {
	if payload == "" {
		payload = "-"
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, rr.qrSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}
