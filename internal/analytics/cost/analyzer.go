// Package cost turns consumption aggregates into money figures and
// concrete saving suggestions.
package cost

import (
	"context"
	"errors"
	"fmt"
	"math"

	"energy-insight/internal/analytics/aggregate"
)

// Projection constants.
const (
	DaysPerMonth = 30.44
	DaysPerYear  = 365.0
)

const (
	// A device is expensive once it exceeds this share of the
	// projected monthly cost.
	highCostDeviceShare = 0.2
	highCostSavingsRate = 0.1

	// Peak window is 17:00 through 21:00.
	peakStartHour = 17
	peakEndHour   = 21
	peakCostShare = 0.3
	peakSavings   = 0.2

	referenceDailyKWh = 25.0
)

// Savings opportunity types.
const (
	OpportunityHighCostDevice = "high_cost_device"
	OpportunityPeakHourUsage  = "peak_hour_usage"
	OpportunityEfficiency     = "efficiency_improvement"
)

// DeviceCost is one device's share of the bill.
type DeviceCost struct {
	Cost       float64 `json:"cost"`
	Percentage float64 `json:"percentage"`
}

// SavingsOpportunity describes one way to cut the bill.
type SavingsOpportunity struct {
	Type             string  `json:"type"`
	Description      string  `json:"description"`
	PotentialSavings float64 `json:"potential_savings"`
}

// Analysis is the outcome of one cost analysis run.
type Analysis struct {
	TotalCost             float64               `json:"total_cost"`
	DailyAverageCost      float64               `json:"daily_average_cost"`
	ProjectedMonthlyCost  float64               `json:"projected_monthly_cost"`
	ProjectedAnnualCost   float64               `json:"projected_annual_cost"`
	CostBreakdown         map[string]DeviceCost `json:"cost_breakdown"`
	SavingsOpportunities  []SavingsOpportunity  `json:"savings_opportunities"`
	TotalPotentialSavings float64               `json:"total_potential_savings"`
	CostPerKWh            float64               `json:"cost_per_kwh"`
}

// Analyzer builds cost analyses from consumption aggregates.
type Analyzer struct {
	aggregator *aggregate.Aggregator
}

// NewAnalyzer builds a cost analyzer over the given aggregator.
func NewAnalyzer(aggregator *aggregate.Aggregator) (*Analyzer, error) {
	if aggregator == nil {
		return nil, errors.New("cost: aggregator is required")
	}
	return &Analyzer{aggregator: aggregator}, nil
}

// Analyze computes costs and savings over the trailing window. A
// daysBack of zero or less falls back to thirty days.
func (a *Analyzer) Analyze(ctx context.Context, daysBack int) Analysis {
	if daysBack <= 0 {
		daysBack = 30
	}

	stats := a.aggregator.Statistics(ctx, daysBack)
	if stats.TotalConsumption == 0 {
		return Analysis{
			CostBreakdown:        map[string]DeviceCost{},
			SavingsOpportunities: []SavingsOpportunity{},
			CostPerKWh:           a.aggregator.CostPerKWh(),
		}
	}

	var dailyAverageCost float64
	if stats.DaysWithData > 0 {
		dailyAverageCost = stats.TotalCost / float64(stats.DaysWithData)
	}
	projectedMonthly := dailyAverageCost * DaysPerMonth
	projectedAnnual := dailyAverageCost * DaysPerYear

	breakdown := map[string]DeviceCost{}
	devices := a.aggregator.DeviceBreakdown(ctx, daysBack)
	for _, device := range devices {
		breakdown[device.DeviceName] = DeviceCost{
			Cost:       device.Cost,
			Percentage: device.Percentage,
		}
	}

	opportunities := []SavingsOpportunity{}
	for _, device := range devices {
		if device.Cost > projectedMonthly*highCostDeviceShare {
			opportunities = append(opportunities, SavingsOpportunity{
				Type:             OpportunityHighCostDevice,
				Description:      fmt.Sprintf("%s accounts for $%.2f (%.1f%%) of your energy costs", device.DeviceName, device.Cost, device.Percentage),
				PotentialSavings: device.Cost * highCostSavingsRate,
			})
		}
	}

	if opportunity, ok := a.peakHourOpportunity(ctx, daysBack, stats); ok {
		opportunities = append(opportunities, opportunity)
	}

	if stats.AverageDaily > referenceDailyKWh {
		excess := stats.AverageDaily - referenceDailyKWh
		opportunities = append(opportunities, SavingsOpportunity{
			Type:             OpportunityEfficiency,
			Description:      fmt.Sprintf("Your daily usage is %.1f kWh above average", excess),
			PotentialSavings: excess * a.aggregator.CostPerKWh() * DaysPerMonth,
		})
	}

	var totalSavings float64
	for _, opportunity := range opportunities {
		totalSavings += opportunity.PotentialSavings
	}

	return Analysis{
		TotalCost:             round2(stats.TotalCost),
		DailyAverageCost:      round2(dailyAverageCost),
		ProjectedMonthlyCost:  round2(projectedMonthly),
		ProjectedAnnualCost:   round2(projectedAnnual),
		CostBreakdown:         breakdown,
		SavingsOpportunities:  opportunities,
		TotalPotentialSavings: round2(totalSavings),
		CostPerKWh:            a.aggregator.CostPerKWh(),
	}
}

// peakHourOpportunity flags evening usage once it carries more than a
// configured share of the total cost.
func (a *Analyzer) peakHourOpportunity(ctx context.Context, daysBack int, stats aggregate.Statistics) (SavingsOpportunity, bool) {
	var peakConsumption float64
	var found bool
	for _, bucket := range a.aggregator.HourlyPattern(ctx, daysBack) {
		if bucket.Hour >= peakStartHour && bucket.Hour <= peakEndHour {
			peakConsumption += bucket.Mean
			found = true
		}
	}
	if !found {
		return SavingsOpportunity{}, false
	}

	peakCost := peakConsumption * a.aggregator.CostPerKWh() * float64(stats.DaysWithData)
	if peakCost <= stats.TotalCost*peakCostShare {
		return SavingsOpportunity{}, false
	}
	return SavingsOpportunity{
		Type:             OpportunityPeakHourUsage,
		Description:      fmt.Sprintf("Peak hour usage (5-9 PM) costs approximately $%.2f", peakCost),
		PotentialSavings: peakCost * peakSavings,
	}, true
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
