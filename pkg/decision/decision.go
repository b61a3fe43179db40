// Package decision turns a day of spot prices into a heating directive.
package decision

import (
	"fmt"
	"math"
	"sort"

	"github.com/nergy-se/spotheat/pkg/api/v1/types"
)

const (
	DefaultPercentile = 0.67
	// DefaultFloor is 4 c/kWh expressed in EUR/MWh.
	DefaultFloor = 40.0
)

type Engine struct {
	percentile float64
	floor      float64
}

func New(percentile, floor float64) *Engine {
	return &Engine{
		percentile: percentile,
		floor:      floor,
	}
}

type Decision struct {
	Directive types.Directive
	Hour      int
	Price     float64
	Threshold float64
}

// Decide returns HeatOff when the price at hour is both above the day's
// percentile threshold and above the absolute floor. Ties go to HeatOn.
func (e *Engine) Decide(series types.Series, hour int) (Decision, error) {
	if err := series.Validate(); err != nil {
		return Decision{}, err
	}
	if hour < 0 || hour >= types.HoursPerDay {
		return Decision{}, fmt.Errorf("hour %d out of range", hour)
	}

	d := Decision{
		Directive: types.HeatOn,
		Hour:      hour,
		Price:     series.Samples[hour].Price,
		Threshold: Percentile(series.Prices(), e.percentile),
	}
	if d.Price > d.Threshold && d.Price > e.floor {
		d.Directive = types.HeatOff
	}
	return d, nil
}

// Percentile interpolates linearly between the closest ranks at
// p*(n-1) of the sorted values. values is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		return sorted[0]
	}
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}
