// Package risk holds the fleet's safety rails: entry sizing with a hard
// per-order risk cap, and the circuit breaker guarding the symbol
// discovery feed.
package risk

// maxRiskPctPerTrade caps the fraction of equity a single entry may put
// at risk. Config validation clamps the configured value too; this cap
// holds even if a caller bypasses config.
const maxRiskPctPerTrade = 3.0

// PositionSize converts an intended entry at price into a quantity such
// that a stop one grid width away loses riskPct percent of balance:
//
//	risk_amount = balance × riskPct/100
//	qty         = (risk_amount / (gridWidthPct/100)) / price
//
// Returns 0 when the inputs cannot produce a meaningful size (balance,
// grid width, price, or risk non-positive).
func PositionSize(balance, riskPct, gridWidthPct, price float64) float64 {
	if balance <= 0 || riskPct <= 0 || gridWidthPct <= 0 || price <= 0 {
		return 0
	}
	if riskPct > maxRiskPctPerTrade {
		riskPct = maxRiskPctPerTrade
	}

	riskAmount := balance * riskPct / 100
	stopFrac := gridWidthPct / 100

	return (riskAmount / stopFrac) / price
}
