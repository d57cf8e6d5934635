package net_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	e3net "github.com/ciphermesh/coordinator/pkg/e3/net"
)

func TestSplitSmallPayloadIsSingleChunk(t *testing.T) {
	data := []byte("small payload")
	chunks := e3net.Split(data)
	require.Len(t, chunks, 1)
	require.Equal(t, data, chunks[0].Data)
}

func TestSplitAndReassembleLargePayload(t *testing.T) {
	data := make([]byte, e3net.ChunkThreshold+e3net.ChunkSize*2+17)
	_, err := rand.Read(data)
	require.NoError(t, err)

	chunks := e3net.Split(data)
	require.Greater(t, len(chunks), 1)

	r := e3net.NewReassembler()
	var out []byte
	var ok bool
	for i := len(chunks) - 1; i >= 0; i-- { // deliver out of order
		out, ok = r.Add(chunks[i])
	}
	require.True(t, ok)
	require.True(t, bytes.Equal(data, out))
}

func TestReassemblerRejectsMismatchedTotal(t *testing.T) {
	r := e3net.NewReassembler()
	_, ok := r.Add(e3net.Chunk{DocID: "x", Index: 0, TotalChunks: 2, Data: []byte("a")})
	require.False(t, ok)
	_, ok = r.Add(e3net.Chunk{DocID: "x", Index: 0, TotalChunks: 3, Data: []byte("a")})
	require.False(t, ok)
}
