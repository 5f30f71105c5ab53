// Package receipt renders a committed sale as a printable ticket. It
// reads the sale, its items and the store settings and writes nothing.
package receipt

import (
	"fmt"
	"strings"

	money "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
)

// CurrencyCode is the display currency for receipt amounts. The engine
// itself is single-currency; this only affects formatting.
var CurrencyCode = "KES"

const lineWidth = 40

// Render builds the receipt model and its plain-text rendering.
func Render(sale domain.Sale, items []domain.SaleItem, products map[string]domain.Product, settings domain.Settings) domain.Receipt {
	rec := domain.Receipt{
		SaleID:    sale.ID,
		StoreName: settings.StoreName,
		Footer:    settings.ReceiptFooter,
		CreatedAt: sale.CreatedAt,
		Total:     sale.Total,
		Lines:     make([]domain.ReceiptLine, 0, len(items)),
	}

	for _, item := range items {
		name := item.ProductID
		if product, ok := products[item.ProductID]; ok {
			name = product.Name
		}
		rec.Lines = append(rec.Lines, domain.ReceiptLine{
			Name:      name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.Subtotal,
		})
	}

	rec.Text = renderText(rec)
	return rec
}

func renderText(rec domain.Receipt) string {
	var b strings.Builder

	divider := strings.Repeat("-", lineWidth)
	writeCentered(&b, rec.StoreName)
	writeCentered(&b, rec.CreatedAt.Format("2006-01-02 15:04"))
	b.WriteString(divider + "\n")

	for _, line := range rec.Lines {
		left := fmt.Sprintf("%s x%d @%s", line.Name, line.Quantity, FormatAmount(line.UnitPrice))
		writeRow(&b, left, FormatAmount(line.LineTotal))
	}

	b.WriteString(divider + "\n")
	writeRow(&b, "TOTAL", FormatAmount(rec.Total))

	if rec.Footer != "" {
		b.WriteString(divider + "\n")
		writeCentered(&b, rec.Footer)
	}

	return b.String()
}

// FormatAmount renders a decimal amount in the display currency, e.g.
// "KSh1,250.00".
func FormatAmount(amount decimal.Decimal) string {
	cur := money.GetCurrency(CurrencyCode)
	if cur == nil {
		return amount.StringFixed(2)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}

func writeCentered(b *strings.Builder, text string) {
	if len(text) >= lineWidth {
		b.WriteString(text + "\n")
		return
	}
	pad := (lineWidth - len(text)) / 2
	b.WriteString(strings.Repeat(" ", pad) + text + "\n")
}

func writeRow(b *strings.Builder, left string, right string) {
	gap := lineWidth - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	b.WriteString(left + strings.Repeat(" ", gap) + right + "\n")
}
