package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DispatchHub    = "hub"
	DispatchModbus = "modbus"
)

type CliConfig struct {
	// HubURL is the bridge listener the triggers are posted to.
	HubURL   string `default:"http://192.168.1.33:8088"`
	Dispatch string `default:"hub"`

	PriceServer string `default:"https://web-api.tp.entsoe.eu"`
	// APIKeyFile is relative to the directory of the controller executable.
	APIKeyFile string `default:"workspace/apikey"`
	// Area is the ENTSO-E EIC bidding zone, default Finland.
	Area     string `default:"10YFI-1--------U"`
	Timezone string `default:"Europe/Helsinki"`

	Percentile float64 `default:"0.67"`
	// PriceFloor in EUR/MWh VAT excluded, 40 is 4 c/kWh.
	PriceFloor float64 `default:"40"`

	Debug         bool
	DebugInterval time.Duration `default:"3s"`
	HTTPTimeout   time.Duration `default:"30s"`
	TickTimeout   time.Duration `default:"2m"`

	BridgeCommand string   `default:"python3"`
	BridgeArgs    []string `default:"-u,../edgebridge/edgebridge.py"`
	// BridgeDir is relative to the directory of the controller executable.
	BridgeDir  string `default:"workspace"`
	SkipBridge bool

	// GuardNames are basenames besides our own that must not be running.
	GuardNames []string `default:"edgebridge.py"`
	// GuardInterpreters may run a GuardNames script, python also covers
	// python3 and python3.11.
	GuardInterpreters []string `default:"python,node"`
	SkipGuard         bool

	// MQTTAddress enables the embedded broker, e.g. ":1883".
	MQTTAddress string

	ModbusAddress string
	ModbusSlave   int `default:"1"`
	ModbusCoil    int `default:"9"`

	LogLevel string `default:"info"`
}

func (c *CliConfig) Validate() error {
	switch c.Dispatch {
	case DispatchHub:
		if c.HubURL == "" {
			return fmt.Errorf("hub dispatch requires HubURL")
		}
	case DispatchModbus:
		if c.ModbusAddress == "" {
			return fmt.Errorf("modbus dispatch requires ModbusAddress")
		}
		if c.ModbusCoil < 0 || c.ModbusCoil > 0xffff {
			return fmt.Errorf("ModbusCoil %d out of range", c.ModbusCoil)
		}
	default:
		return fmt.Errorf("unknown dispatch %q", c.Dispatch)
	}
	if c.Percentile < 0 || c.Percentile > 1 {
		return fmt.Errorf("Percentile %g must be between 0 and 1", c.Percentile)
	}
	if c.Debug && c.DebugInterval <= 0 {
		return fmt.Errorf("DebugInterval must be positive")
	}
	return nil
}

// LoadAPIKey reads the API key file. It is called for every price fetch so
// a rotated key is picked up without a restart.
func (c *CliConfig) LoadAPIKey() (string, error) {
	b, err := os.ReadFile(c.APIKeyFile)
	if err != nil {
		return "", fmt.Errorf("error reading api key file: %w", err)
	}
	key, _, _ := strings.Cut(string(b), "\n")
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("api key file %s is empty", c.APIKeyFile)
	}
	return key, nil
}

func (c *CliConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// ResolvePaths makes a relative APIKeyFile and BridgeDir relative to the
// directory holding exe instead of the working directory.
func (c *CliConfig) ResolvePaths(exe string) {
	c.APIKeyFile = resolve(exe, c.APIKeyFile)
	c.BridgeDir = resolve(exe, c.BridgeDir)
}

func resolve(exe, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(exe), p)
}
