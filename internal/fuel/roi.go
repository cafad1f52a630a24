package fuel

import "fleet-monitor/telemetry/internal/domain"

// NeverPaysBack is the payback period reported when there are no savings.
const NeverPaysBack = 999

// ROI projects the return on a system costing systemCost that saves monthlySavings.
func ROI(systemCost, monthlySavings float64) domain.ROIResult {
	if monthlySavings <= 0 {
		return domain.ROIResult{
			SystemCost:    Round(systemCost, 2),
			PaybackMonths: NeverPaysBack,
		}
	}

	annual := monthlySavings * 12
	res := domain.ROIResult{
		SystemCost:     Round(systemCost, 2),
		MonthlySavings: Round(monthlySavings, 2),
		PaybackMonths:  Round(systemCost/monthlySavings, 1),
		AnnualSavings:  Round(annual, 2),
	}
	if systemCost > 0 {
		res.ROIPercent = Round((annual-systemCost)/systemCost*100, 1)
		res.TimesPaid = Round(annual/systemCost, 1)
	}
	return res
}
