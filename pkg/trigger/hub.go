package trigger

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nergy-se/spotheat/pkg/api/v1/types"
	"github.com/sirupsen/logrus"
)

// Hub posts directives to the smart-home bridge as
// POST <base>/<Directive>/trigger with an empty body.
type Hub struct {
	baseURL    string
	httpClient *http.Client
}

func NewHub(baseURL string, timeout time.Duration) *Hub {
	return &Hub{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (h *Hub) URL(d types.Directive) string {
	return h.baseURL + "/" + d.String() + "/trigger"
}

// Dispatch is fire-and-forget: any HTTP response counts as delivered.
func (h *Hub) Dispatch(ctx context.Context, d types.Directive) error {
	u := h.URL(d)
	req, err := http.NewRequestWithContext(ctx, "POST", u, nil)
	if err != nil {
		return &DispatchError{Kind: KindNetwork, Directive: d, Err: err}
	}

	logrus.Infof("Sending %s POST request to hub", d)
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return &DispatchError{Kind: Classify(err), Directive: d, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logrus.WithFields(logrus.Fields{"url": u, "status": resp.StatusCode}).Debug("hub: ignoring non 2xx response")
	}
	return nil
}
