// Package trigger sends heating directives to whatever switches the heating.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/nergy-se/spotheat/pkg/api/v1/types"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, d types.Directive) error
}

type Kind string

const (
	KindTimeout Kind = "timeout"
	KindDNS     Kind = "dns"
	KindRefused Kind = "refused"
	KindNetwork Kind = "network"
)

// DispatchError is returned by every Dispatcher when the directive could not
// be delivered.
type DispatchError struct {
	Kind      Kind
	Directive types.Directive
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s failed (%s): %s", e.Directive, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Classify maps a transport error to a Kind.
func Classify(err error) Kind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNS
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindRefused
	}
	return KindNetwork
}
