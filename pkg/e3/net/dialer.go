package net

import (
	"context"
	"log/slog"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/ciphermesh/coordinator/pkg/e3/errors"
)

// Dialer connects to bootstrap/peer multiaddrs with exponential backoff
// under the retry policy passed to NewDialer; errors.DialRetry is the
// unbounded policy for that, since a peer coming back online later is
// always worth reconnecting to.
type Dialer struct {
	host    host.Host
	handler *errors.Handler
	log     *slog.Logger
}

// NewDialer builds a Dialer for host h. sink receives a KindError if an
// address never resolves to a connectable peer (caller decides whether
// that's fatal).
func NewDialer(h host.Host, retry errors.RetryConfig, sink func(*errors.KindError), log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{host: h, handler: errors.NewHandler(retry, sink), log: log}
}

// Dial resolves addr and connects, retrying with backoff until the retry
// policy gives up or ctx is cancelled. Returns an error wrapping
// ErrNoAddresses immediately if addr has no listen
// addresses — that's a configuration error, not a transient one, and
// retrying it would just spin forever.
func (d *Dialer) Dial(ctx context.Context, addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return errors.Net("parse multiaddr", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return errors.Net("resolve peer info", err)
	}
	if len(info.Addrs) == 0 {
		return errors.Net("dial", ErrNoAddresses)
	}

	_, err = errors.Run(ctx, d.handler, errors.KindNet, "connect to peer", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.host.Connect(ctx, *info)
	})
	return err
}

// ErrNoAddresses is returned when a peer multiaddr carries no dialable
// address.
var ErrNoAddresses = errNoAddresses{}

type errNoAddresses struct{}

func (errNoAddresses) Error() string { return "net: peer address has no dialable addresses" }
