package modbusclient

import (
	"context"

	"github.com/nergy-se/spotheat/pkg/api/v1/types"
	"github.com/nergy-se/spotheat/pkg/trigger"
	"github.com/sirupsen/logrus"
)

// CoilDispatcher switches heating directly on a heat pump by writing the
// "allow heating" coil. HeatOn sets the coil, HeatOff clears it.
type CoilDispatcher struct {
	client Client
	coil   uint16
}

func NewCoilDispatcher(c Client, coil uint16) *CoilDispatcher {
	return &CoilDispatcher{
		client: c,
		coil:   coil,
	}
}

func (cd *CoilDispatcher) Dispatch(ctx context.Context, d types.Directive) error {
	if err := ctx.Err(); err != nil {
		return &trigger.DispatchError{Kind: trigger.Classify(err), Directive: d, Err: err}
	}

	allow := d == types.HeatOn
	logrus.WithFields(logrus.Fields{"coil": cd.coil, "allow": allow}).Infof("Writing %s to heat pump", d)
	_, err := cd.client.WriteSingleCoil(cd.coil, CoilValue(allow))
	if err != nil {
		return &trigger.DispatchError{Kind: trigger.Classify(err), Directive: d, Err: err}
	}
	return nil
}
