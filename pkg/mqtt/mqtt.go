package mqtt

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	mqttv2 "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/nergy-se/spotheat/pkg/api/v1/types"
	"github.com/nergy-se/spotheat/pkg/decision"
)

const (
	TopicDirective = "spotheat/directive"
	TopicPrices    = "spotheat/prices"
)

type Broker struct {
	server *mqttv2.Server
}

// Start runs an embedded broker until ctx is done. An empty address starts
// the broker without a TCP listener, only the inline client can use it.
// Broker logs go to logOut at warning level and above.
func Start(ctx context.Context, wg *sync.WaitGroup, address string, logOut io.Writer) (*Broker, error) {
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelWarn}))
	server := mqttv2.New(&mqttv2.Options{
		InlineClient: true,
		Logger:       logger,
	})

	// Allow all connections.
	_ = server.AddHook(new(auth.AllowHook), nil)

	if address != "" {
		tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: address})
		err := server.AddListener(tcp)
		if err != nil {
			return nil, err
		}
	}

	err := server.Serve()
	if err != nil {
		return nil, err
	}

	wg.Add(1)
	go func() {
		<-ctx.Done()
		server.Close()
		wg.Done()
	}()
	return &Broker{server: server}, nil
}

// PublishDecision publishes the directive and the day's prices as retained
// messages so a client connecting later gets the current state.
func (b *Broker) PublishDecision(now time.Time, d decision.Decision, series types.Series) error {
	payload, err := FormatDirective(now, d)
	if err != nil {
		return err
	}
	err = b.server.Publish(TopicDirective, payload, true, 0)
	if err != nil {
		return err
	}

	payload, err = FormatPrices(series)
	if err != nil {
		return err
	}
	return b.server.Publish(TopicPrices, payload, true, 0)
}

// Subscribe registers an inline subscription on the embedded broker.
func (b *Broker) Subscribe(filter string, id int, fn func(topic string, payload []byte)) error {
	return b.server.Subscribe(filter, id, func(cl *mqttv2.Client, sub packets.Subscription, pk packets.Packet) {
		fn(pk.TopicName, pk.Payload)
	})
}
