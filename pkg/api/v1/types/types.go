package types

import (
	"errors"
	"fmt"
	"time"
)

// HoursPerDay is the number of samples in a Series.
const HoursPerDay = 24

var ErrMalformedSeries = errors.New("malformed price series")

type Directive int

const (
	HeatOn Directive = iota
	HeatOff
)

func (d Directive) String() string {
	switch d {
	case HeatOn:
		return "HeatOn"
	case HeatOff:
		return "HeatOff"
	}
	return fmt.Sprintf("Directive(%d)", int(d))
}

// ParseDirective accepts the names used in the hub trigger URLs.
func ParseDirective(s string) (Directive, error) {
	switch s {
	case "HeatOn":
		return HeatOn, nil
	case "HeatOff":
		return HeatOff, nil
	}
	return HeatOn, fmt.Errorf("unknown directive %q", s)
}

// Sample is the day-ahead price for one hour of the local day in EUR/MWh
// excluding VAT.
type Sample struct {
	Hour  int     `json:"hour"`
	Price float64 `json:"price"`
}

// Series holds one calendar day of hourly prices.
type Series struct {
	Day     time.Time `json:"day"`
	Area    string    `json:"area"`
	Samples []Sample  `json:"samples"`
}

// Validate checks that there is exactly one sample per hour 0-23 in
// ascending order.
func (s Series) Validate() error {
	if len(s.Samples) != HoursPerDay {
		return fmt.Errorf("%w: got %d samples want %d", ErrMalformedSeries, len(s.Samples), HoursPerDay)
	}
	for i, sample := range s.Samples {
		if sample.Hour != i {
			return fmt.Errorf("%w: sample %d has hour %d", ErrMalformedSeries, i, sample.Hour)
		}
	}
	return nil
}

func (s Series) Prices() []float64 {
	p := make([]float64, len(s.Samples))
	for i, sample := range s.Samples {
		p[i] = sample.Price
	}
	return p
}

// NewSeries builds a Series from 24 prices indexed by hour.
func NewSeries(day time.Time, area string, prices []float64) Series {
	s := Series{Day: day, Area: area, Samples: make([]Sample, len(prices))}
	for i, p := range prices {
		s.Samples[i] = Sample{Hour: i, Price: p}
	}
	return s
}
