package e2e

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/nergy-se/spotheat/pkg/api/v1/config"
	"github.com/nergy-se/spotheat/pkg/app"
	"github.com/nergy-se/spotheat/pkg/logsink"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timezone = "Europe/Helsinki"

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// priceServer answers every day-ahead query with 10 EUR/MWh for all hours
// except the local hour hot, which gets 100.
type priceServer struct {
	*httptest.Server
	mu     sync.Mutex
	tokens []string
	hot    func() int
}

func newPriceServer(t *testing.T, hot func() int) *priceServer {
	loc, err := time.LoadLocation(timezone)
	require.NoError(t, err)

	ps := &priceServer{hot: hot}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ps.mu.Lock()
		ps.tokens = append(ps.tokens, q.Get("securityToken"))
		ps.mu.Unlock()

		start, err := time.Parse("200601021504", q.Get("periodStart"))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		end, err := time.Parse("200601021504", q.Get("periodEnd"))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		hot := ps.hot()
		b := &strings.Builder{}
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-3:publicationdocument:7:3">
  <TimeSeries>
    <Period>
`)
		fmt.Fprintf(b, "      <timeInterval><start>%s</start><end>%s</end></timeInterval>\n",
			start.Format("2006-01-02T15:04Z"), end.Format("2006-01-02T15:04Z"))
		b.WriteString("      <resolution>PT60M</resolution>\n")
		pos := 1
		for ts := start; ts.Before(end); ts = ts.Add(time.Hour) {
			price := 10.0
			if ts.In(loc).Hour() == hot {
				price = 100
			}
			fmt.Fprintf(b, "      <Point><position>%d</position><price.amount>%g</price.amount></Point>\n", pos, price)
			pos++
		}
		b.WriteString(`    </Period>
  </TimeSeries>
</Publication_MarketDocument>`)
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, b.String())
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *priceServer) seenTokens() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]string(nil), ps.tokens...)
}

type hubServer struct {
	*httptest.Server
	mu    sync.Mutex
	paths []string
}

func newHubServer(t *testing.T) *hubServer {
	hs := &hubServer{}
	hs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		hs.mu.Lock()
		hs.paths = append(hs.paths, r.URL.Path)
		hs.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hs.Close)
	return hs
}

func (hs *hubServer) received() []string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]string(nil), hs.paths...)
}

func currentHour() int {
	loc, _ := time.LoadLocation(timezone)
	return time.Now().In(loc).Hour()
}

func otherHour() int {
	return (currentHour() + 12) % 24
}

func writeAPIKey(t *testing.T, key string) string {
	file := filepath.Join(t.TempDir(), "apikey")
	require.NoError(t, os.WriteFile(file, []byte(key+"\n"), 0600))
	return file
}

func baseConfig(priceURL, hubURL, keyFile string) *config.CliConfig {
	return &config.CliConfig{
		HubURL:        hubURL,
		Dispatch:      config.DispatchHub,
		PriceServer:   priceURL,
		APIKeyFile:    keyFile,
		Area:          "10YFI-1--------U",
		Timezone:      timezone,
		Percentile:    0.67,
		PriceFloor:    40,
		Debug:         true,
		DebugInterval: 50 * time.Millisecond,
		HTTPTimeout:   time.Second,
		TickTimeout:   5 * time.Second,
		SkipBridge:    true,
		SkipGuard:     true,
		LogLevel:      "debug",
	}
}

func installSink(t *testing.T) (*logsink.Sink, *syncBuffer) {
	out := &syncBuffer{}
	sink := logsink.New(out)
	sink.Install(logrus.StandardLogger())
	logrus.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
	})
	return sink, out
}

func WaitFor(t *testing.T, timeout time.Duration, msg string, ok func() bool) {
	end := time.Now().Add(timeout)
	for {
		if end.Before(time.Now()) {
			t.Errorf("timeout waiting for: %s", msg)
			return
		}
		time.Sleep(10 * time.Millisecond)
		if ok() {
			return
		}
	}
}

func TestControllerSendsTrigger(t *testing.T) {
	var tests = []struct {
		name     string
		hot      func() int
		expected string
	}{
		{
			name:     "expensive current hour turns heating off",
			hot:      currentHour,
			expected: "/HeatOff/trigger",
		},
		{
			name:     "cheap current hour keeps heating on",
			hot:      otherHour,
			expected: "/HeatOn/trigger",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sink, out := installSink(t)
			prices := newPriceServer(t, tt.hot)
			hub := newHubServer(t)

			cfg := baseConfig(prices.URL, hub.URL, writeAPIKey(t, "mysecrettoken"))
			cfg.Debug = false

			ctx, cancel := context.WithCancel(context.Background())
			a := app.New(cfg, sink)
			err := a.Start(ctx)
			require.NoError(t, err)

			WaitFor(t, 2*time.Second, "first trigger", func() bool {
				return len(hub.received()) > 0
			})
			cancel()
			a.Wait()

			received := hub.received()
			require.NotEmpty(t, received)
			assert.Equal(t, tt.expected, received[0])
			assert.Equal(t, []string{"mysecrettoken"}, prices.seenTokens()[:1])
			assert.Contains(t, out.String(), "POST request to hub")
			assert.Equal(t, app.StateStopped, a.State())
		})
	}
}

func TestControllerKeepsRunningWithHubDown(t *testing.T) {
	sink, out := installSink(t)
	prices := newPriceServer(t, currentHour)

	// reserve a port and close it so the hub refuses connections
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	hubURL := "http://" + l.Addr().String()
	l.Close()

	cfg := baseConfig(prices.URL, hubURL, writeAPIKey(t, "mysecrettoken"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := app.New(cfg, sink)
	err = a.Start(ctx)
	require.NoError(t, err)

	WaitFor(t, 3*time.Second, "three ticks", func() bool {
		return len(prices.seenTokens()) >= 3
	})
	assert.NotEqual(t, app.StateStopped, a.State())
	assert.Contains(t, out.String(), "Sending the HeatOff request failed")
	assert.Contains(t, out.String(), "quantile(0.67)")

	cancel()
	a.Wait()
	assert.Equal(t, app.StateStopped, a.State())
}

func TestControllerRereadsAPIKey(t *testing.T) {
	sink, _ := installSink(t)
	prices := newPriceServer(t, otherHour)
	hub := newHubServer(t)
	keyFile := writeAPIKey(t, "first")

	cfg := baseConfig(prices.URL, hub.URL, keyFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := app.New(cfg, sink)
	err := a.Start(ctx)
	require.NoError(t, err)

	WaitFor(t, 2*time.Second, "first fetch", func() bool {
		return len(prices.seenTokens()) > 0
	})
	require.NoError(t, os.WriteFile(keyFile, []byte("second\n"), 0600))
	WaitFor(t, 2*time.Second, "rotated key", func() bool {
		tokens := prices.seenTokens()
		return len(tokens) > 0 && tokens[len(tokens)-1] == "second"
	})

	cancel()
	a.Wait()
	tokens := prices.seenTokens()
	require.NotEmpty(t, tokens)
	assert.Equal(t, "first", tokens[0])
}

func TestControllerRelaysBridgeOutput(t *testing.T) {
	sink, out := installSink(t)
	prices := newPriceServer(t, otherHour)
	hub := newHubServer(t)

	cfg := baseConfig(prices.URL, hub.URL, writeAPIKey(t, "mysecrettoken"))
	cfg.SkipBridge = false
	cfg.BridgeCommand = "sh"
	cfg.BridgeArgs = []string{"-c", "echo bridge listening; echo bridge failure >&2"}
	cfg.BridgeDir = t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := app.New(cfg, sink)
	err := a.Start(ctx)
	require.NoError(t, err)

	select {
	case <-a.Bridge().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not exit")
	}
	WaitFor(t, 2*time.Second, "trigger after bridge exit", func() bool {
		return len(hub.received()) >= 2
	})

	cancel()
	a.Wait()

	lines := strings.Split(out.String(), "\n")
	assert.Contains(t, lines, "bridge listening")
	assert.Contains(t, lines, "bridge failure")
	assert.NoError(t, a.Bridge().Err())
}
