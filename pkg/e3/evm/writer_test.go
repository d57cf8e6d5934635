package evm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	e3err "github.com/ciphermesh/coordinator/pkg/e3/errors"
	"github.com/ciphermesh/coordinator/pkg/e3/evm"
)

type fakeRegistry struct {
	failCommittee bool
	calls         int
}

func (f *fakeRegistry) PublishCommittee(ctx context.Context, e3ID string, members []string, pubKey []byte) error {
	f.calls++
	if f.failCommittee {
		return errors.New("rpc down")
	}
	return nil
}

func (f *fakeRegistry) PublishPlaintextOutput(ctx context.Context, e3ID string, plaintext []byte) error {
	return nil
}

func (f *fakeRegistry) ProposeSlash(ctx context.Context, node, reason string) error {
	return nil
}

func TestWriterPublishCommitteeSucceeds(t *testing.T) {
	registry := &fakeRegistry{}
	w := evm.NewWriter(registry, e3err.DefaultRetry, nil)

	err := w.PublishCommittee(context.Background(), "e3-1", []string{"a", "b"}, []byte("pk"))
	require.NoError(t, err)
	require.Equal(t, 1, registry.calls)
}

func TestWriterPublishCommitteeReportsKindErrorOnExhaustion(t *testing.T) {
	registry := &fakeRegistry{failCommittee: true}
	var reported *e3err.KindError
	retry := e3err.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}
	w := evm.NewWriter(registry, retry, func(ke *e3err.KindError) { reported = ke })

	err := w.PublishCommittee(context.Background(), "e3-1", []string{"a"}, nil)
	require.Error(t, err)
	require.NotNil(t, reported)
	require.Equal(t, e3err.KindEvm, reported.Kind)
	require.Equal(t, 2, registry.calls)
}
