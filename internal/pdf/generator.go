package pdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/marcoshache/grain-canje-triangular/internal/model"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Render builds the printable liquidation settlement document.
func (g *Generator) Render(liq model.Liquidation) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	title := "Liquidacion Primaria de Granos (LPG)"
	if liq.Type == model.LiquidationLSG {
		title = "Liquidacion Secundaria de Granos (LSG)"
	}
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Numero %s - Fecha %s", liq.Number, formatDate(liq.Date)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	addField(pdf, "Productor", liq.ProducerID.String())
	if liq.BrokerID != nil {
		addField(pdf, "Corredor", liq.BrokerID.String())
	}
	addField(pdf, "Producto", liq.ProductID.String())
	if liq.COE != "" {
		addField(pdf, "C.O.E.", liq.COE)
	}
	if liq.Port != "" {
		addField(pdf, "Puerto", liq.Port)
	}
	if liq.GrainGrade != "" {
		addField(pdf, "Grado", liq.GrainGrade)
	}
	if liq.DeliveryDate != nil {
		addField(pdf, "Fecha entrega", formatDate(*liq.DeliveryDate))
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Detalle", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	addField(pdf, "Toneladas", fmt.Sprintf("%.3f", liq.QtyTn))
	addField(pdf, "Precio por TN", liq.PricePerTn.StringFixed(2))
	addField(pdf, "Subtotal", liq.AmountUntaxed.StringFixed(2))
	addField(pdf, "Impuesto", liq.AmountTax.StringFixed(2))

	pdf.SetFont("Helvetica", "B", 11)
	addField(pdf, "Total", liq.AmountTotal.StringFixed(2))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addField(pdf *gofpdf.Fpdf, label, value string) {
	pdf.CellFormat(50, 6, label, "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, value, "", 1, "L", false, 0, "")
}

func formatDate(t time.Time) string {
	return t.Format("02/01/2006")
}
