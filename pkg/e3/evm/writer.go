package evm

import (
	"context"

	"github.com/ciphermesh/coordinator/pkg/e3/errors"
)

// Registry is the external collaborator that submits the coordinator's
// outputs back on-chain. Its concrete implementation (transaction
// building, signing, ABI encoding) is out of this module's scope; this
// package only decides when to call it and retries/reports failure.
type Registry interface {
	PublishCommittee(ctx context.Context, e3ID string, members []string, pubKey []byte) error
	PublishPlaintextOutput(ctx context.Context, e3ID string, plaintext []byte) error
	ProposeSlash(ctx context.Context, node string, reason string) error
}

// Writer drives Registry calls through the standard retry/report handler
// so a transient RPC failure doesn't silently drop a result the rest of
// the committee is waiting to see on-chain.
type Writer struct {
	registry Registry
	handler  *errors.Handler
}

// NewWriter builds a Writer. sink receives a KindError if a call exhausts
// its retries.
func NewWriter(registry Registry, retry errors.RetryConfig, sink func(*errors.KindError)) *Writer {
	return &Writer{registry: registry, handler: errors.NewHandler(retry, sink)}
}

func (w *Writer) PublishCommittee(ctx context.Context, e3ID string, members []string, pubKey []byte) error {
	_, err := errors.Run(ctx, w.handler, errors.KindEvm, "publish committee", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.registry.PublishCommittee(ctx, e3ID, members, pubKey)
	})
	return err
}

func (w *Writer) PublishPlaintextOutput(ctx context.Context, e3ID string, plaintext []byte) error {
	_, err := errors.Run(ctx, w.handler, errors.KindEvm, "publish plaintext output", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.registry.PublishPlaintextOutput(ctx, e3ID, plaintext)
	})
	return err
}

func (w *Writer) ProposeSlash(ctx context.Context, node string, reason string) error {
	_, err := errors.Run(ctx, w.handler, errors.KindEvm, "propose slash", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.registry.ProposeSlash(ctx, node, reason)
	})
	return err
}
