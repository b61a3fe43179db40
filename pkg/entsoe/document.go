package entsoe

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// document covers both Publication_MarketDocument and
// Acknowledgement_MarketDocument. Tags match in any namespace.
type document struct {
	XMLName    xml.Name
	TimeSeries []timeSeries `xml:"TimeSeries"`
	Reasons    []reason     `xml:"Reason"`
}

type reason struct {
	Code string `xml:"code"`
	Text string `xml:"text"`
}

type timeSeries struct {
	Periods []period `xml:"Period"`
}

type period struct {
	Interval   interval `xml:"timeInterval"`
	Resolution string   `xml:"resolution"`
	Points     []point  `xml:"Point"`
}

type interval struct {
	Start string `xml:"start"`
	End   string `xml:"end"`
}

type point struct {
	Position int     `xml:"position"`
	Price    float64 `xml:"price.amount"`
}

func (d *document) isAcknowledgement() bool {
	return strings.HasPrefix(d.XMLName.Local, "Acknowledgement")
}

func (d *document) reasonText() string {
	texts := make([]string, 0, len(d.Reasons))
	for _, r := range d.Reasons {
		texts = append(texts, strings.TrimSpace(r.Text))
	}
	return strings.Join(texts, "; ")
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02T15:04Z07:00", "2006-01-02T15:04:05Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// parseResolution understands the PTnM and PTnH forms used for spot prices.
func parseResolution(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "PT") || len(s) < 4 {
		return 0, fmt.Errorf("unsupported resolution %q", s)
	}
	n, err := strconv.Atoi(s[2 : len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported resolution %q", s)
	}
	switch s[len(s)-1] {
	case 'M':
		return time.Duration(n) * time.Minute, nil
	case 'H':
		return time.Duration(n) * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported resolution %q", s)
}

type pricedInterval struct {
	start time.Time
	price float64
}

// expand returns one entry per resolution step of the period. Positions left
// out of the document repeat the previous price.
func (p period) expand() ([]pricedInterval, error) {
	start, err := parseTime(p.Interval.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseTime(p.Interval.End)
	if err != nil {
		return nil, err
	}
	res, err := parseResolution(p.Resolution)
	if err != nil {
		return nil, err
	}
	if len(p.Points) == 0 {
		return nil, nil
	}

	points := make([]point, len(p.Points))
	copy(points, p.Points)
	sort.Slice(points, func(i, j int) bool { return points[i].Position < points[j].Position })
	if points[0].Position != 1 {
		return nil, fmt.Errorf("period starting %s has first position %d", p.Interval.Start, points[0].Position)
	}
	for i := 1; i < len(points); i++ {
		if points[i].Position == points[i-1].Position {
			return nil, fmt.Errorf("period starting %s repeats position %d", p.Interval.Start, points[i].Position)
		}
	}

	steps := int(end.Sub(start) / res)
	out := make([]pricedInterval, 0, steps)
	next := 0
	price := points[0].Price
	for pos := 1; pos <= steps; pos++ {
		if next < len(points) && points[next].Position == pos {
			price = points[next].Price
			next++
		}
		out = append(out, pricedInterval{
			start: start.Add(time.Duration(pos-1) * res),
			price: price,
		})
	}
	return out, nil
}
