// Package export renders unit price analyses as spreadsheets.
package export

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/Simplici0/micaa/internal/apu"
	"github.com/Simplici0/micaa/internal/pricing"
)

const (
	sheetName   = "APU"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type sheetWriter struct {
	f   *excelize.File
	row int
	err error
}

func (w *sheetWriter) cell(col string, value any) {
	if w.err != nil {
		return
	}
	if d, ok := value.(decimal.Decimal); ok {
		value = d.InexactFloat64()
	}
	w.err = w.f.SetCellValue(sheetName, fmt.Sprintf("%s%d", col, w.row), value)
}

func (w *sheetWriter) line(values ...any) {
	cols := []string{"A", "B", "C", "D", "E", "F"}
	for i, v := range values {
		w.cell(cols[i], v)
	}
	w.row++
}

func materialsFactor(adj *pricing.Adjustment) decimal.Decimal {
	if adj == nil || !adj.Applied {
		return decimal.NewFromInt(1)
	}
	return adj.Factor.MaterialsFactor
}

func laborFactor(adj *pricing.Adjustment) decimal.Decimal {
	if adj == nil || !adj.Applied {
		return decimal.NewFromInt(1)
	}
	return adj.Factor.LaborFactor
}

// BuildAPUXLSX renders a quote: the composition by kind, then the indirect cost chain.
func BuildAPUXLSX(q apu.Quote) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}

	b := q.Breakdown
	w := &sheetWriter{f: f, row: 1}
	w.line("ANÁLISIS DE PRECIOS UNITARIOS")
	w.line("Actividad", q.Activity.Name)
	w.line("Unidad", q.Activity.Unit)
	if q.Adjustment != nil {
		w.line("Ciudad", fmt.Sprintf("%s, %s", q.Adjustment.City, q.Adjustment.Country))
	}
	w.row++

	sections := []struct {
		title  string
		kind   pricing.Kind
		factor decimal.Decimal
		total  decimal.Decimal
	}{
		{"1. MATERIALES", pricing.KindMaterial, materialsFactor(q.Adjustment), b.MaterialsCost},
		{"2. MANO DE OBRA", pricing.KindLabor, laborFactor(q.Adjustment), b.LaborCost},
	}
	for _, s := range sections {
		w.line(s.title)
		w.line("Descripción", "Unidad", "Cantidad", "Precio unitario", "Parcial", "Origen")
		for _, l := range q.Lines {
			item, ok := l.(pricing.DirectLineItem)
			if !ok || item.Component.Kind != s.kind {
				continue
			}
			// Lines carry the city factor so they add up to the section total.
			unitCost := item.Resolution.UnitCost.Mul(s.factor)
			w.line(
				item.Component.Description,
				item.Component.Unit,
				item.Component.Quantity,
				unitCost,
				item.Component.Quantity.Mul(unitCost),
				string(item.Resolution.Source),
			)
		}
		w.line("Total", "", "", "", s.total)
		w.row++
	}

	w.line("3. EQUIPO, MAQUINARIA Y HERRAMIENTAS")
	w.line("Porcentaje de costo directo", b.EquipmentPercentage, string(b.EquipmentSource))
	w.line("Total", "", "", "", b.EquipmentCost)
	w.row++

	w.line("4. GASTOS GENERALES Y ADMINISTRATIVOS", b.Rates.AdministrativePercentage, "", "", b.AdministrativeCost)
	w.line("5. UTILIDAD", b.Rates.UtilityPercentage, "", "", b.UtilityCost)
	w.line("6. IMPUESTOS", b.Rates.TaxPercentage, "", "", b.TaxCost)
	w.row++
	w.line("PRECIO UNITARIO TOTAL", "", "", "", b.TotalUnitPrice)
	if q.Estimated {
		w.line("Precio estimado: revisar advertencias")
		for _, warn := range q.Warnings {
			w.line(string(warn.Code), warn.Message)
		}
	}
	if w.err != nil {
		return nil, fmt.Errorf("write apu sheet: %w", w.err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
