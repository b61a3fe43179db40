// spotheat-coil reads or forces the heating coil used by the modbus
// dispatcher. Useful when commissioning a heat pump.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nergy-se/spotheat/pkg/api/v1/types"
	"github.com/nergy-se/spotheat/pkg/modbusclient"
	"github.com/sirupsen/logrus"
)

func main() {
	address := flag.String("addr", "", "tcp modbus address")
	slaveID := flag.Int("slave", 1, "modbus slave id")
	coil := flag.Int("coil", 9, "coil that allows heating")
	directive := flag.String("directive", "", "HeatOn or HeatOff. reads the coil if empty")
	timeout := flag.Duration("timeout", 5*time.Second, "")
	flag.Parse()

	err := run(*address, byte(*slaveID), uint16(*coil), *directive, *timeout)
	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func run(address string, slaveID byte, coil uint16, directive string, timeout time.Duration) error {
	if address == "" {
		return fmt.Errorf("-addr is required")
	}
	client := modbusclient.Dial(address, slaveID, timeout)

	if directive == "" {
		on, err := client.ReadCoil(coil)
		if err != nil {
			return err
		}
		fmt.Printf("coil %d: %s\n", coil, coilDirective(on))
		return nil
	}

	d, err := types.ParseDirective(directive)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return modbusclient.NewCoilDispatcher(client, coil).Dispatch(ctx, d)
}

func coilDirective(on bool) types.Directive {
	if on {
		return types.HeatOn
	}
	return types.HeatOff
}
