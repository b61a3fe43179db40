package mqtt

import (
	"encoding/json"
	"time"

	"github.com/nergy-se/spotheat/pkg/api/v1/types"
	"github.com/nergy-se/spotheat/pkg/decision"
)

type DirectivePayload struct {
	Time      string  `json:"time"`
	Hour      int     `json:"hour"`
	Directive string  `json:"directive"`
	Price     float64 `json:"price"`
	Threshold float64 `json:"threshold"`
}

func FormatDirective(now time.Time, d decision.Decision) ([]byte, error) {
	return json.Marshal(DirectivePayload{
		Time:      now.Format(time.RFC3339),
		Hour:      d.Hour,
		Directive: d.Directive.String(),
		Price:     d.Price,
		Threshold: d.Threshold,
	})
}

func FormatPrices(series types.Series) ([]byte, error) {
	return json.Marshal(series.Samples)
}
