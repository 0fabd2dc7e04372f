package salary

import "math"

// Rates are the withholding rates applied to business income.
type Rates struct {
	Income float64
	Local  float64
}

// DefaultRates are the statutory 3% income tax and 10% local surtax.
var DefaultRates = Rates{Income: 0.03, Local: 0.10}

// basisPoints converts a fractional rate into hundredths of a percent so the
// arithmetic below stays in integers.
func basisPoints(rate float64) int64 {
	if rate <= 0 {
		return 0
	}
	return int64(math.Round(rate * 10000))
}

func floorTo10(v int64) int64 {
	return v / 10 * 10
}

// Withhold returns income and local tax for gross. Each tax is floored to 10 won.
func Withhold(gross int64, taxType string, r Rates) (income, local int64) {
	if taxType != TaxBusinessIncome || gross <= 0 {
		return 0, 0
	}
	income = floorTo10(gross * basisPoints(r.Income) / 10000)
	local = floorTo10(income * basisPoints(r.Local) / 10000)
	return income, local
}

// Compute builds the pay record of one consultant. The monthly incentive is
// paid only when the consultant held at least one session.
func Compute(p Profile, w WorkCount, r Rates) Record {
	rec := Record{
		ConsultantID:   w.ConsultantID,
		ConsultantName: p.ConsultantName,
		BranchID:       w.BranchID,
		SessionCount:   w.Sessions,
		PerSessionRate: p.PerSessionRate,
	}
	if w.Sessions > 0 {
		rec.Incentive = p.MonthlyIncentive
	}
	rec.Gross = int64(w.Sessions)*p.PerSessionRate + rec.Incentive
	rec.IncomeTax, rec.LocalTax = Withhold(rec.Gross, p.TaxType, r)
	rec.Net = rec.Gross - rec.IncomeTax - rec.LocalTax
	return rec
}
