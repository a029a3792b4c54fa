package excel

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/marcoshache/grain-canje-triangular/internal/model"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate builds the applications workbook: a summary sheet with the
// contract's tonnage balances and a detail sheet listing every
// application.
func (g *Generator) Generate(report model.ApplicationsReport) ([]byte, error) {
	file := excelize.NewFile()

	summarySheet := "Resumen"
	file.SetSheetName("Sheet1", summarySheet)
	if err := g.writeSummary(file, summarySheet, report); err != nil {
		return nil, err
	}

	detailSheet := "Aplicaciones"
	if _, err := file.NewSheet(detailSheet); err != nil {
		return nil, err
	}
	if err := g.writeDetail(file, detailSheet, report); err != nil {
		return nil, err
	}

	file.SetActiveSheet(0)
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeSummary(file *excelize.File, sheet string, report model.ApplicationsReport) error {
	contract := report.Contract

	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	set("A1", "Contrato")
	set("B1", contract.Number)
	set("A2", "Fecha")
	set("B2", contract.Date.Format("2006-01-02"))
	set("A3", "Estado")
	set("B3", string(contract.State))
	set("A4", "Precio referencia por TN")
	set("B4", contract.ReferencePrice.String())
	set("A5", "TN pactadas")
	set("B5", contract.PledgedTn)
	set("A6", "TN entregadas")
	set("B6", contract.DeliveredTn())
	set("A7", "TN aplicadas")
	set("B7", contract.AppliedTn())
	set("A8", "TN disponibles")
	set("B8", contract.AvailableTn())

	return nil
}

func (g *Generator) writeDetail(file *excelize.File, sheet string, report model.ApplicationsReport) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	headers := []string{"Fecha", "Factura", "TN aplicadas", "Monto", "Moneda", "Productor", "Proveedor"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		set(cell, header)
	}

	for i, app := range report.Applications {
		row := i + 2
		set(fmt.Sprintf("A%d", row), app.Date.Format("2006-01-02"))
		set(fmt.Sprintf("B%d", row), app.InvoiceID.String())
		set(fmt.Sprintf("C%d", row), app.TnApplied)
		amount, _ := app.Amount.Float64()
		set(fmt.Sprintf("D%d", row), amount)
		set(fmt.Sprintf("E%d", row), app.Currency)
		set(fmt.Sprintf("F%d", row), app.ProducerID.String())
		set(fmt.Sprintf("G%d", row), app.SupplierID.String())
	}
	return nil
}
