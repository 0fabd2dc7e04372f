package discounts

import "time"

// VATRate is the Korean value-added tax rate in percent.
const VATRate = 10

// Calculate prices base with an optional discount. All arithmetic is in whole
// won: percent discounts floor, and the final amount is split into supply and
// VAT as supply = round(final / 1.1).
func Calculate(base int64, d *Discount, at time.Time) (Calculation, error) {
	if base <= 0 {
		return Calculation{}, ErrInvalidAmount
	}
	out := Calculation{BaseAmount: base}
	if d != nil {
		if err := d.Applicable(base, at); err != nil {
			return Calculation{}, err
		}
		id := d.ID
		out.DiscountID = &id
		out.DiscountAmount = discountAmount(base, *d)
	}
	out.FinalAmount = base - out.DiscountAmount
	out.SupplyAmount, out.VATAmount = SplitVAT(out.FinalAmount)
	return out, nil
}

func discountAmount(base int64, d Discount) int64 {
	var amount int64
	switch d.Type {
	case TypePercent:
		amount = base * d.Value / 100
	case TypeFixed:
		amount = d.Value
	}
	if d.MaxDiscount != nil && amount > *d.MaxDiscount {
		amount = *d.MaxDiscount
	}
	if amount > base {
		amount = base
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}

// SplitVAT splits a VAT-inclusive amount into supply value and VAT.
// Supply is rounded half up to the won.
func SplitVAT(total int64) (supply, vat int64) {
	if total <= 0 {
		return 0, 0
	}
	supply = (total*100*2 + (100 + VATRate)) / (2 * (100 + VATRate))
	return supply, total - supply
}

// Verify recomputes the breakdown of c and lists every differing field.
func Verify(c Calculation, d *Discount) VerifyResult {
	expected := Calculation{BaseAmount: c.BaseAmount}
	if d != nil {
		id := d.ID
		expected.DiscountID = &id
		expected.DiscountAmount = discountAmount(c.BaseAmount, *d)
	}
	expected.FinalAmount = c.BaseAmount - expected.DiscountAmount
	expected.SupplyAmount, expected.VATAmount = SplitVAT(expected.FinalAmount)

	res := VerifyResult{Expected: expected, Mismatches: []Mismatch{}}
	check := func(field string, want, got int64) {
		if want != got {
			res.Mismatches = append(res.Mismatches, Mismatch{Field: field, Expected: want, Actual: got})
		}
	}
	check("discount_amount", expected.DiscountAmount, c.DiscountAmount)
	check("final_amount", expected.FinalAmount, c.FinalAmount)
	check("supply_amount", expected.SupplyAmount, c.SupplyAmount)
	check("vat_amount", expected.VATAmount, c.VATAmount)
	if c.SupplyAmount+c.VATAmount != c.FinalAmount {
		res.Mismatches = append(res.Mismatches, Mismatch{Field: "supply_plus_vat", Expected: c.FinalAmount, Actual: c.SupplyAmount + c.VATAmount})
	}
	res.Consistent = len(res.Mismatches) == 0
	return res
}
