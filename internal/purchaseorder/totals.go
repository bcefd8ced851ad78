package purchaseorder

import "math"

// Totals holds the derived monetary figures for a purchase order.
type Totals struct {
	SubTotal       float64 `json:"sub_total"`
	DiscountAmount float64 `json:"discount_amount"`
	TaxableAmount  float64 `json:"taxable_amount"`
	TaxAmount      float64 `json:"tax_amount"`
	ShippingAmount float64 `json:"shipping_amount"`
	GrandTotal     float64 `json:"grand_total"`
}

// CalculateTotals computes order totals from product lines, the additional
// discount, the GST rate and shipping charges. It is pure and idempotent.
//
// Per line: gross = unit price x quantity, minus the line discount (flat or
// percent of gross), floored at zero. FOC quantities contribute nothing.
// Order level: sum of line nets, minus the additional discount (flat or
// percent of the sum), taxed at gstRate percent, plus shipping (flat or
// percent of the taxable base).
//
// Intermediates are carried at full float64 precision; rounding happens once,
// half-up to 2 decimals, on the grand total. The grand total never goes
// negative.
func CalculateTotals(products []ProductLine, additionalDiscount ChargeSpec, gstRate float64, shipping ChargeSpec) Totals {
	var subTotal float64
	for _, line := range products {
		line.Normalize()
		gross := line.UnitPrice * line.Quantity
		net := gross - applyCharge(line.Discount, gross)
		if net < 0 {
			net = 0
		}
		subTotal += net
	}

	discount := applyCharge(additionalDiscount, subTotal)
	taxable := subTotal - discount
	if taxable < 0 {
		taxable = 0
	}

	if !isFinite(gstRate) || gstRate < 0 {
		gstRate = 0
	}
	tax := taxable * gstRate / 100

	shippingAmount := applyCharge(shipping, taxable)

	grand := taxable + tax + shippingAmount
	if grand < 0 {
		grand = 0
	}

	return Totals{
		SubTotal:       subTotal,
		DiscountAmount: discount,
		TaxableAmount:  taxable,
		TaxAmount:      tax,
		ShippingAmount: shippingAmount,
		GrandTotal:     roundCurrency(grand),
	}
}

// Apply writes the calculator output onto the order's derived fields.
func (t Totals) Apply(po *PurchaseOrder) {
	po.SubTotal = t.SubTotal
	po.DiscountAmount = t.DiscountAmount
	po.TaxableAmount = t.TaxableAmount
	po.TaxAmount = t.TaxAmount
	po.ShippingAmount = t.ShippingAmount
	po.GrandTotal = t.GrandTotal
}

func applyCharge(spec ChargeSpec, base float64) float64 {
	value := spec.Value
	if !isFinite(value) || value < 0 {
		return 0
	}
	if spec.Type == ChargePercent {
		return base * value / 100
	}
	return value
}

// roundCurrency rounds half-up to 2 decimal places.
func roundCurrency(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
