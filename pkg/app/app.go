package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nergy-se/spotheat/pkg/api/v1/config"
	"github.com/nergy-se/spotheat/pkg/api/v1/types"
	"github.com/nergy-se/spotheat/pkg/bridge"
	"github.com/nergy-se/spotheat/pkg/decision"
	"github.com/nergy-se/spotheat/pkg/entsoe"
	"github.com/nergy-se/spotheat/pkg/guard"
	"github.com/nergy-se/spotheat/pkg/logsink"
	"github.com/nergy-se/spotheat/pkg/modbusclient"
	"github.com/nergy-se/spotheat/pkg/mqtt"
	"github.com/nergy-se/spotheat/pkg/trigger"
	"github.com/nergy-se/spotheat/pkg/version"
	"github.com/sirupsen/logrus"
)

type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateTicking
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWaiting:
		return "Waiting"
	case StateTicking:
		return "Ticking"
	case StateStopped:
		return "Stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type PriceFetcher interface {
	DayAheadPrices(ctx context.Context, area string, day time.Time) (types.Series, error)
}

type App struct {
	wg     *sync.WaitGroup
	config *config.CliConfig
	sink   *logsink.Sink
	now    func() time.Time
	loc    *time.Location
	state  atomic.Int32

	program    string
	guard      *guard.Guard
	fetcher    PriceFetcher
	engine     *decision.Engine
	dispatcher trigger.Dispatcher
	bridge     *bridge.Supervisor
	broker     *mqtt.Broker
}

func New(config *config.CliConfig, sink *logsink.Sink) *App {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	config.ResolvePaths(exe)
	program := filepath.Base(os.Args[0])

	a := &App{
		wg:      &sync.WaitGroup{},
		config:  config,
		sink:    sink,
		now:     time.Now,
		program: program,
		guard:   guard.New(guard.SystemLister{}, int32(os.Getpid()), config.GuardInterpreters, append([]string{program}, config.GuardNames...)...),
		fetcher: entsoe.New(config.PriceServer, config.LoadAPIKey, config.HTTPTimeout),
		engine:  decision.New(config.Percentile, config.PriceFloor),
	}
	a.dispatcher = newDispatcher(config)
	if !config.SkipBridge {
		a.bridge = bridge.New(sink, config.BridgeDir, config.BridgeCommand, config.BridgeArgs...)
	}
	return a
}

func newDispatcher(c *config.CliConfig) trigger.Dispatcher {
	if c.Dispatch == config.DispatchModbus {
		client := modbusclient.Dial(c.ModbusAddress, byte(c.ModbusSlave), c.HTTPTimeout)
		return modbusclient.NewCoilDispatcher(client, uint16(c.ModbusCoil))
	}
	return trigger.NewHub(c.HubURL, c.HTTPTimeout)
}

// Start checks for conflicting processes, then starts the bridge, the
// optional broker and the controller loop. Nothing is started if another
// instance is running.
func (a *App) Start(ctx context.Context) error {
	loc, err := a.config.Location()
	if err != nil {
		return fmt.Errorf("error loading timezone: %w", err)
	}
	a.loc = loc

	if !a.config.SkipGuard {
		err = a.guard.Check(ctx, a.program)
		if err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"version":  version.Version,
		"area":     a.config.Area,
		"dispatch": a.config.Dispatch,
		"debug":    a.config.Debug,
	}).Infof("%s: starting", a.program)

	if a.config.MQTTAddress != "" {
		a.broker, err = mqtt.Start(ctx, a.wg, a.config.MQTTAddress, a.sink)
		if err != nil {
			return fmt.Errorf("error starting mqtt broker: %w", err)
		}
	}

	if a.bridge != nil {
		err = a.bridge.Start(ctx)
		if err != nil {
			return err
		}
	}

	a.state.Store(int32(StateWaiting))
	a.wg.Add(1)
	go a.controllerLoop(ctx)
	return nil
}

// Wait blocks until the controller loop and broker have stopped. The bridge
// relay is not waited for.
func (a *App) Wait() {
	a.wg.Wait()
}

func (a *App) State() State {
	return State(a.state.Load())
}

func (a *App) Bridge() *bridge.Supervisor {
	return a.bridge
}

func (a *App) controllerLoop(ctx context.Context) {
	defer a.wg.Done()
	defer a.state.Store(int32(StateStopped))

	_ = a.DoTick(ctx)
	delay := a.nextDelay()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	logrus.Debug("scheduling next run in ", delay)
	for {
		select {
		case <-timer.C:
			_ = a.DoTick(ctx)
			delay = a.nextDelay()
			timer.Reset(delay)
			logrus.Debug("scheduling next run in ", delay)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) nextDelay() time.Duration {
	if a.config.Debug {
		return a.config.DebugInterval
	}
	return calculateNextDelay(a.now())
}

func (a *App) location() *time.Location {
	if a.loc == nil {
		return time.Local
	}
	return a.loc
}

// DoTick runs fetch, decide and dispatch once. Failures are logged here and
// returned; the tick is skipped and the loop carries on with the next one.
func (a *App) DoTick(ctx context.Context) error {
	a.state.Store(int32(StateTicking))
	defer a.state.Store(int32(StateWaiting))

	if a.config.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.TickTimeout)
		defer cancel()
	}

	now := a.now().In(a.location())
	series, err := a.fetcher.DayAheadPrices(ctx, a.config.Area, now)
	if err != nil {
		logrus.Errorf("Fetching day-ahead prices failed, skipping this tick: %s", err)
		return fmt.Errorf("error fetching prices: %w", err)
	}

	d, err := a.engine.Decide(series, now.Hour())
	if err != nil {
		logrus.Errorf("Deciding directive failed, skipping this tick: %s", err)
		return err
	}

	dispatchErr := a.dispatcher.Dispatch(ctx, d.Directive)
	if dispatchErr != nil {
		logDispatchError(dispatchErr, d.Directive)
	}

	if a.config.Debug {
		logrus.Debugf("price[%d]: %g, quantile(%g): %g", d.Hour, d.Price, a.config.Percentile, d.Threshold)
		logrus.Debugf("prices: %s", formatPrices(series))
	}

	if a.broker != nil {
		if err := a.broker.PublishDecision(now, d, series); err != nil {
			logrus.Warnf("mqtt: error publishing decision: %s", err)
		}
	}
	return dispatchErr
}

func logDispatchError(err error, d types.Directive) {
	dispatchErr := &trigger.DispatchError{}
	if errors.As(err, &dispatchErr) {
		logrus.WithField("kind", dispatchErr.Kind).Errorf("Sending the %s request failed: %s", d, dispatchErr.Err)
		return
	}
	logrus.Errorf("Sending the %s request failed: %s", d, err)
}

func formatPrices(series types.Series) string {
	parts := make([]string, len(series.Samples))
	for i, s := range series.Samples {
		parts[i] = fmt.Sprintf("%02d:%g", s.Hour, s.Price)
	}
	return strings.Join(parts, " ")
}
