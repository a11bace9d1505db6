package aggregate

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"energy-insight/internal/analytics/stats"
	telemetry "energy-insight/internal/telemetry/domain"
)

const defaultCacheTTL = 5 * time.Minute

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Statistics summarizes consumption over a trailing window. Daily figures
// are computed over the totals of calendar days that have data.
type Statistics struct {
	TotalConsumption float64 `json:"total_consumption"`
	AverageDaily     float64 `json:"average_daily"`
	MinDaily         float64 `json:"min_daily"`
	MaxDaily         float64 `json:"max_daily"`
	MedianDaily      float64 `json:"median_daily"`
	StdDeviation     float64 `json:"std_deviation"`
	AverageHourly    float64 `json:"average_hourly"`
	TotalCost        float64 `json:"total_cost"`
	DaysWithData     int     `json:"days_with_data"`
}

// DeviceUsage is one row of a per-device breakdown.
type DeviceUsage struct {
	DeviceName   string  `json:"device_name"`
	Total        float64 `json:"total_consumption"`
	Mean         float64 `json:"avg_consumption"`
	ReadingCount int     `json:"reading_count"`
	StdDeviation float64 `json:"std_deviation"`
	Percentage   float64 `json:"percentage"`
	Cost         float64 `json:"total_cost"`
}

// HourlyBucket is the average consumption profile for one hour of day.
type HourlyBucket struct {
	Hour         int     `json:"hour"`
	Mean         float64 `json:"avg_consumption"`
	StdDeviation float64 `json:"std_deviation"`
	Count        int     `json:"data_points"`
}

// WeekdayBucket is the consumption profile for one day of week.
// Weekday follows time.Weekday (Sunday = 0).
type WeekdayBucket struct {
	Weekday time.Weekday `json:"weekday"`
	Mean    float64      `json:"avg_consumption"`
	Total   float64      `json:"total_consumption"`
	Count   int          `json:"data_points"`
}

// Aggregator computes cached consumption aggregates from the reading store.
// Upstream failures degrade to zero-valued results and are logged, so
// callers can always render something.
type Aggregator struct {
	query      telemetry.ReadingQuery
	cache      *Cache
	cacheTTL   time.Duration
	clock      Clock
	logger     *log.Logger
	costPerKWh float64
}

// Option customizes the aggregator.
type Option func(*Aggregator)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithCacheTTL overrides the default 5-minute cache TTL. The cache is
// built after all options apply, so it always uses the configured clock.
func WithCacheTTL(ttl time.Duration) Option {
	return func(a *Aggregator) {
		if ttl > 0 {
			a.cacheTTL = ttl
		}
	}
}

// NewAggregator constructs an aggregator.
func NewAggregator(query telemetry.ReadingQuery, costPerKWh float64, opts ...Option) (*Aggregator, error) {
	if query == nil {
		return nil, errors.New("aggregate: nil reading query")
	}
	if costPerKWh < 0 {
		return nil, errors.New("aggregate: negative cost per kWh")
	}
	agg := &Aggregator{
		query:      query,
		cacheTTL:   defaultCacheTTL,
		clock:      systemClock{},
		logger:     log.Default(),
		costPerKWh: costPerKWh,
	}
	for _, opt := range opts {
		opt(agg)
	}
	agg.cache = NewCache(agg.cacheTTL, agg.clock)
	return agg, nil
}

// CostPerKWh returns the configured energy price.
func (a *Aggregator) CostPerKWh() float64 {
	if a == nil {
		return 0
	}
	return a.costPerKWh
}

// Invalidate drops all cached aggregates. Called by writers after new
// readings are inserted.
func (a *Aggregator) Invalidate() {
	if a == nil {
		return
	}
	a.cache.Invalidate()
}

// CurrentConsumption returns the most recent reading within the last hour,
// 0 when there is none.
func (a *Aggregator) CurrentConsumption(ctx context.Context) float64 {
	key := cacheKey{Metric: "current_consumption"}
	if cached, ok := a.cache.Get(key); ok {
		if value, ok := cached.(float64); ok {
			return value
		}
	}

	readings, err := a.query.QueryRecent(ctx, 1)
	if err != nil {
		a.logger.Printf("aggregate: current consumption query error: %v", err)
		return 0
	}
	var current float64
	if len(readings) > 0 {
		latest := readings[0]
		for _, reading := range readings[1:] {
			if reading.Timestamp.After(latest.Timestamp) {
				latest = reading
			}
		}
		current = latest.Consumption
	}
	a.cache.Put(key, current)
	return current
}

// DailyTotal returns the total consumption for the calendar day of date.
func (a *Aggregator) DailyTotal(ctx context.Context, date time.Time) float64 {
	start := truncateToDay(date)
	end := start.AddDate(0, 0, 1)
	key := cacheKey{Metric: "daily_total", Start: start, End: end}
	if cached, ok := a.cache.Get(key); ok {
		if value, ok := cached.(float64); ok {
			return value
		}
	}
	total := a.RangeTotal(ctx, start, end)
	a.cache.Put(key, total)
	return total
}

// WeeklyTotal returns the total for the week starting at weekStart. A zero
// weekStart selects the current week beginning on Monday.
func (a *Aggregator) WeeklyTotal(ctx context.Context, weekStart time.Time) float64 {
	if weekStart.IsZero() {
		today := truncateToDay(a.clock.Now())
		offset := (int(today.Weekday()) + 6) % 7 // days since Monday
		weekStart = today.AddDate(0, 0, -offset)
	}
	start := truncateToDay(weekStart)
	return a.RangeTotal(ctx, start, start.AddDate(0, 0, 7))
}

// MonthlyTotal returns the total for the given month. Zero arguments select
// the current month.
func (a *Aggregator) MonthlyTotal(ctx context.Context, year int, month time.Month) float64 {
	if year == 0 || month == 0 {
		now := a.clock.Now()
		year = now.Year()
		month = now.Month()
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	return a.RangeTotal(ctx, start, start.AddDate(0, 1, 0))
}

// RangeTotal returns the total consumption in [start, end).
func (a *Aggregator) RangeTotal(ctx context.Context, start, end time.Time) float64 {
	readings, err := a.query.QueryRange(ctx, start, end)
	if err != nil {
		a.logger.Printf("aggregate: range query error: %v", err)
		return 0
	}
	var total float64
	for _, reading := range readings {
		total += reading.Consumption
	}
	return total
}

// Statistics returns consumption statistics over the trailing daysBack days.
func (a *Aggregator) Statistics(ctx context.Context, daysBack int) Statistics {
	start, end := a.windowDays(daysBack)
	key := cacheKey{Metric: "statistics", Start: start, End: end}
	if cached, ok := a.cache.Get(key); ok {
		if value, ok := cached.(Statistics); ok {
			return value
		}
	}

	readings, err := a.query.QueryRange(ctx, start, end)
	if err != nil {
		a.logger.Printf("aggregate: statistics query error: %v", err)
		return Statistics{}
	}
	result := a.buildStatistics(readings)
	a.cache.Put(key, result)
	return result
}

func (a *Aggregator) buildStatistics(readings []telemetry.Reading) Statistics {
	if len(readings) == 0 {
		return Statistics{}
	}

	var total float64
	var all []float64
	for _, reading := range readings {
		total += reading.Consumption
		all = append(all, reading.Consumption)
	}

	dailyTotals := dailyTotalValues(readings)
	return Statistics{
		TotalConsumption: total,
		AverageDaily:     stats.Mean(dailyTotals),
		MinDaily:         stats.Min(dailyTotals),
		MaxDaily:         stats.Max(dailyTotals),
		MedianDaily:      stats.Median(dailyTotals),
		StdDeviation:     stats.StdDev(dailyTotals),
		AverageHourly:    stats.Mean(all),
		TotalCost:        total * a.costPerKWh,
		DaysWithData:     len(dailyTotals),
	}
}

// DailyTotals returns per-day consumption totals over the trailing window,
// in chronological order.
func (a *Aggregator) DailyTotals(ctx context.Context, daysBack int) []float64 {
	start, end := a.windowDays(daysBack)
	readings, err := a.query.QueryRange(ctx, start, end)
	if err != nil {
		a.logger.Printf("aggregate: daily totals query error: %v", err)
		return nil
	}
	return dailyTotalValues(readings)
}

// DeviceBreakdown returns per-device usage over the trailing window,
// sorted by total descending. Percentages sum to 100 for non-empty input.
func (a *Aggregator) DeviceBreakdown(ctx context.Context, daysBack int) []DeviceUsage {
	start, end := a.windowDays(daysBack)
	key := cacheKey{Metric: "device_breakdown", Start: start, End: end}
	if cached, ok := a.cache.Get(key); ok {
		if value, ok := cached.([]DeviceUsage); ok {
			return value
		}
	}

	readings, err := a.query.QueryRange(ctx, start, end)
	if err != nil {
		a.logger.Printf("aggregate: device breakdown query error: %v", err)
		return nil
	}
	if len(readings) == 0 {
		return nil
	}

	byDevice := make(map[string][]float64)
	for _, reading := range readings {
		byDevice[reading.DeviceName] = append(byDevice[reading.DeviceName], reading.Consumption)
	}

	var overall float64
	for _, values := range byDevice {
		overall += stats.Sum(values)
	}

	result := make([]DeviceUsage, 0, len(byDevice))
	for device, values := range byDevice {
		total := stats.Sum(values)
		usage := DeviceUsage{
			DeviceName:   device,
			Total:        total,
			Mean:         stats.Mean(values),
			ReadingCount: len(values),
			StdDeviation: stats.StdDev(values),
			Cost:         total * a.costPerKWh,
		}
		if overall > 0 {
			usage.Percentage = total / overall * 100
		}
		result = append(result, usage)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Total != result[j].Total {
			return result[i].Total > result[j].Total
		}
		return result[i].DeviceName < result[j].DeviceName
	})
	a.cache.Put(key, result)
	return result
}

// HourlyPattern returns the average consumption per hour of day over the
// trailing window. Hours without data are omitted.
func (a *Aggregator) HourlyPattern(ctx context.Context, daysBack int) []HourlyBucket {
	start, end := a.windowDays(daysBack)
	key := cacheKey{Metric: "hourly_pattern", Start: start, End: end}
	if cached, ok := a.cache.Get(key); ok {
		if value, ok := cached.([]HourlyBucket); ok {
			return value
		}
	}

	readings, err := a.query.QueryRange(ctx, start, end)
	if err != nil {
		a.logger.Printf("aggregate: hourly pattern query error: %v", err)
		return nil
	}
	if len(readings) == 0 {
		return nil
	}

	byHour := make(map[int][]float64)
	for _, reading := range readings {
		hour := reading.Timestamp.Hour()
		byHour[hour] = append(byHour[hour], reading.Consumption)
	}

	result := make([]HourlyBucket, 0, len(byHour))
	for hour, values := range byHour {
		result = append(result, HourlyBucket{
			Hour:         hour,
			Mean:         stats.Mean(values),
			StdDeviation: stats.StdDev(values),
			Count:        len(values),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Hour < result[j].Hour })
	a.cache.Put(key, result)
	return result
}

// WeeklyPattern returns the consumption profile per day of week over the
// trailing weeksBack weeks.
func (a *Aggregator) WeeklyPattern(ctx context.Context, weeksBack int) []WeekdayBucket {
	end := truncateToDay(a.clock.Now()).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -7*weeksBack)
	key := cacheKey{Metric: "weekly_pattern", Start: start, End: end}
	if cached, ok := a.cache.Get(key); ok {
		if value, ok := cached.([]WeekdayBucket); ok {
			return value
		}
	}

	readings, err := a.query.QueryRange(ctx, start, end)
	if err != nil {
		a.logger.Printf("aggregate: weekly pattern query error: %v", err)
		return nil
	}
	if len(readings) == 0 {
		return nil
	}

	byWeekday := make(map[time.Weekday][]float64)
	for _, reading := range readings {
		weekday := reading.Timestamp.Weekday()
		byWeekday[weekday] = append(byWeekday[weekday], reading.Consumption)
	}

	result := make([]WeekdayBucket, 0, len(byWeekday))
	for weekday, values := range byWeekday {
		result = append(result, WeekdayBucket{
			Weekday: weekday,
			Mean:    stats.Mean(values),
			Total:   stats.Sum(values),
			Count:   len(values),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Weekday < result[j].Weekday })
	a.cache.Put(key, result)
	return result
}

func (a *Aggregator) windowDays(daysBack int) (time.Time, time.Time) {
	end := truncateToDay(a.clock.Now()).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -daysBack)
	return start, end
}

func dailyTotalValues(readings []telemetry.Reading) []float64 {
	if len(readings) == 0 {
		return nil
	}
	totals := make(map[time.Time]float64)
	for _, reading := range readings {
		day := truncateToDay(reading.Timestamp)
		totals[day] += reading.Consumption
	}
	days := make([]time.Time, 0, len(totals))
	for day := range totals {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	values := make([]float64, 0, len(days))
	for _, day := range days {
		values = append(values, totals[day])
	}
	return values
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
