// Package evm ingests on-chain logs into the coordinator's event stream:
// per-contract readers replay history then tail live blocks, a historical-
// order fixup stage and coordinator keep cross-reader ordering sane during
// replay, and a per-chain gateway bridges the result into the event store.
// Grounded on tablelandnetwork's eventfeed poller (historical-then-live,
// MinBlockChainDepth reorg buffer, bounded per-call block range).
package evm

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ciphermesh/coordinator/pkg/e3/errors"
	"github.com/ciphermesh/coordinator/pkg/e3/eventbus"
	"github.com/ciphermesh/coordinator/pkg/e3/persist"
)

// Client is the subset of ethclient.Client the reader depends on, kept
// narrow so tests can fake it without spinning up a real RPC endpoint.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Extractor turns one raw log into a domain event, or ok=false if the log's
// topic isn't one this contract cares about. Solidity ABI layout is
// intentionally kept behind this interface — only topic-based dispatch is
// this package's concern.
type Extractor interface {
	Extract(log types.Log) (data ExtractedEvent, ok bool)
}

// ExtractedEvent is the log-derived payload plus the aggregate id it
// belongs to, ready to be wrapped into an eventbus.Event by the caller.
type ExtractedEvent struct {
	AggregateID string
	Data        eventbus.EventData
}

// ReaderConfig tunes one contract reader.
type ReaderConfig struct {
	ChainID            uint64
	Contract           common.Address
	MinBlockChainDepth uint64 // blocks behind head considered "confirmed"
	MaxBlockRange      uint64 // blocks covered per FilterLogs call
	PollInterval       time.Duration
}

// DefaultReaderConfig scales down tableland's 100_000-block batch defaults
// to a more conservative setting appropriate for a general EVM RPC
// provider.
var DefaultReaderConfig = ReaderConfig{
	MinBlockChainDepth: 5,
	MaxBlockRange:      5000,
	PollInterval:       3 * time.Second,
}

// LogEvent is what Reader.Run emits on out: either a decoded log or a
// historical-sync-complete marker once the reader has caught up to head
// for the first time.
type LogEvent struct {
	Extracted     *ExtractedEvent
	BlockNumber   uint64
	HistoricalEnd bool
}

// Reader polls one (chain, contract) pair for logs, replaying history from
// a persisted cursor and then continuing to poll FilterLogs for new
// blocks; it does not use a log subscription.
type Reader struct {
	client  Client
	cfg     ReaderConfig
	extract Extractor
	cursor  *persist.Persistable[uint64]
	handler *errors.Handler
	log     *slog.Logger
}

// NewReader builds a Reader persisting its block cursor in cursor.
func NewReader(client Client, cfg ReaderConfig, extract Extractor, cursor *persist.Persistable[uint64], retry errors.RetryConfig, sink func(*errors.KindError), log *slog.Logger) *Reader {
	if cfg.MinBlockChainDepth == 0 {
		cfg.MinBlockChainDepth = DefaultReaderConfig.MinBlockChainDepth
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = DefaultReaderConfig.MaxBlockRange
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultReaderConfig.PollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reader{client: client, cfg: cfg, extract: extract, cursor: cursor, handler: errors.NewHandler(retry, sink), log: log}
}

// Run replays history from the persisted cursor (or fromBlock when no
// cursor is stored) and then tails new blocks until ctx is cancelled,
// emitting every decoded log plus one HistoricalEnd marker at the
// historical/live boundary. If replay gives up after its retries, Run
// returns without emitting the marker.
func (r *Reader) Run(ctx context.Context, fromBlock uint64, out chan<- LogEvent) {
	start := fromBlock
	if cur, ok, _ := r.cursor.Get(); ok {
		start = cur
	}

	r.replay(ctx, start, out)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollLive(ctx, out)
		}
	}
}

func (r *Reader) replay(ctx context.Context, from uint64, out chan<- LogEvent) {
	for {
		head, err := errors.Run(ctx, r.handler, errors.KindEvm, "block number", r.client.BlockNumber)
		if err != nil {
			return
		}
		if head < r.cfg.MinBlockChainDepth {
			break
		}
		safeHead := head - r.cfg.MinBlockChainDepth
		if from > safeHead {
			break
		}

		to := from + r.cfg.MaxBlockRange
		if to > safeHead {
			to = safeHead
		}

		logs, err := errors.Run(ctx, r.handler, errors.KindEvm, "filter logs", func(ctx context.Context) ([]types.Log, error) {
			return r.client.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(from),
				ToBlock:   new(big.Int).SetUint64(to),
				Addresses: []common.Address{r.cfg.Contract},
			})
		})
		if err != nil {
			return
		}

		for _, l := range logs {
			if ev, ok := r.extract.Extract(l); ok {
				out <- LogEvent{Extracted: &ev, BlockNumber: l.BlockNumber}
			}
		}

		from = to + 1
		_ = r.cursor.Set(from)

		if to >= safeHead {
			break
		}
	}
	out <- LogEvent{HistoricalEnd: true}
}

func (r *Reader) pollLive(ctx context.Context, out chan<- LogEvent) {
	from, _, _ := r.cursor.Get()
	head, err := errors.Run(ctx, r.handler, errors.KindEvm, "block number", r.client.BlockNumber)
	if err != nil || head < r.cfg.MinBlockChainDepth {
		return
	}
	safeHead := head - r.cfg.MinBlockChainDepth
	if from > safeHead {
		return
	}

	logs, err := errors.Run(ctx, r.handler, errors.KindEvm, "filter logs", func(ctx context.Context) ([]types.Log, error) {
		return r.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(safeHead),
			Addresses: []common.Address{r.cfg.Contract},
		})
	})
	if err != nil {
		return
	}
	for _, l := range logs {
		if ev, ok := r.extract.Extract(l); ok {
			out <- LogEvent{Extracted: &ev, BlockNumber: l.BlockNumber}
		}
	}
	_ = r.cursor.Set(safeHead + 1)
}
