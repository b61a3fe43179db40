// Package entsoe fetches day-ahead spot prices from the ENTSO-E
// transparency platform REST API.
package entsoe

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nergy-se/spotheat/pkg/api/v1/types"
	"github.com/sirupsen/logrus"
)

const DefaultServer = "https://web-api.tp.entsoe.eu"

// AreaFinland is the EIC bidding zone code for Finland.
const AreaFinland = "10YFI-1--------U"

const (
	documentTypePrices  = "A44"
	processTypeDayAhead = "A01"
	periodLayout        = "200601021504"
)

var ErrNoPrices = errors.New("no day-ahead prices")

// APIError is returned when the platform answers with an acknowledgement
// document or a non 200 status.
type APIError struct {
	StatusCode int
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("entsoe: status %d", e.StatusCode)
	}
	return fmt.Sprintf("entsoe: status %d: %s", e.StatusCode, e.Reason)
}

// TokenSource returns the security token. It is called on every request.
type TokenSource func() (string, error)

type Client struct {
	server     string
	token      TokenSource
	httpClient *http.Client
}

func New(server string, token TokenSource, timeout time.Duration) *Client {
	return &Client{
		server: server,
		token:  token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// DayAheadPrices returns the hourly prices for the local calendar day that
// contains day. The location of day decides what local means.
func (c *Client) DayAheadPrices(ctx context.Context, area string, day time.Time) (types.Series, error) {
	loc := day.Location()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	doc, err := c.fetch(ctx, area, dayStart, dayEnd)
	if err != nil {
		return types.Series{}, err
	}

	prices, err := hourly(doc, dayStart, dayEnd)
	if err != nil {
		return types.Series{}, fmt.Errorf("area %s day %s: %w", area, dayStart.Format("2006-01-02"), err)
	}
	return types.NewSeries(dayStart, area, prices), nil
}

func (c *Client) fetch(ctx context.Context, area string, start, end time.Time) (*document, error) {
	token, err := c.token()
	if err != nil {
		return nil, fmt.Errorf("error loading security token: %w", err)
	}

	q := url.Values{}
	q.Set("securityToken", token)
	q.Set("documentType", documentTypePrices)
	q.Set("processType", processTypeDayAhead)
	q.Set("in_Domain", area)
	q.Set("out_Domain", area)
	q.Set("periodStart", start.UTC().Format(periodLayout))
	q.Set("periodEnd", end.UTC().Format(periodLayout))

	req, err := http.NewRequestWithContext(ctx, "GET", c.server+"/api?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"area":        area,
		"periodStart": q.Get("periodStart"),
		"periodEnd":   q.Get("periodEnd"),
	}).Debug("entsoe: fetching day-ahead prices")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	doc := &document{}
	decodeErr := xml.Unmarshal(body, doc)

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Reason = doc.reasonText()
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("error decoding response: %w", decodeErr)
	}
	if doc.isAcknowledgement() {
		return nil, &APIError{StatusCode: resp.StatusCode, Reason: doc.reasonText()}
	}
	return doc, nil
}

// hourly folds the document into 24 prices by local clock hour. Sub-hourly
// resolutions and the repeated hour on a 25 hour day are averaged. The
// skipped hour on a 23 hour day repeats the hour before it.
func hourly(doc *document, dayStart, dayEnd time.Time) ([]float64, error) {
	var sums [types.HoursPerDay]float64
	var counts [types.HoursPerDay]int

	for _, ts := range doc.TimeSeries {
		for _, p := range ts.Periods {
			intervals, err := p.expand()
			if err != nil {
				return nil, err
			}
			for _, iv := range intervals {
				if iv.start.Before(dayStart) || !iv.start.Before(dayEnd) {
					continue
				}
				h := iv.start.In(dayStart.Location()).Hour()
				sums[h] += iv.price
				counts[h]++
			}
		}
	}

	shortDay := dayEnd.Sub(dayStart) < 24*time.Hour
	prices := make([]float64, types.HoursPerDay)
	for h := range prices {
		if counts[h] > 0 {
			prices[h] = sums[h] / float64(counts[h])
			continue
		}
		if shortDay && h > 0 && counts[h-1] > 0 {
			prices[h] = prices[h-1]
			continue
		}
		return nil, fmt.Errorf("%w for hour %d", ErrNoPrices, h)
	}
	return prices, nil
}
