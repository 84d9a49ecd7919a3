package ports

import "context"

// RawLog is one undecoded chain log record as produced by the ingestion
// source. Topics and data are 0x-prefixed hex strings.
type RawLog struct {
	Topics      []string
	Data        string
	BlockNumber uint64
	TxHash      string
}

type LogHandler func(ctx context.Context, raw RawLog)

// ChainSource is the external event producer: a restartable stream of raw
// logs plus a block-timestamp side channel.
type ChainSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, fromBlock uint64, toBlock uint64) ([]RawLog, error)
	// SubscribeLogs blocks, invoking handler for each live log, until ctx
	// is done or the underlying stream fails.
	SubscribeLogs(ctx context.Context, handler LogHandler) error
	BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error)
	Close() error
}
