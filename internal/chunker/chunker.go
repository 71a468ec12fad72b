// Package chunker splits eth_getLogs block ranges adaptively so that
// provider-side payload caps never abort a transfer-window query outright.
package chunker

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"chainpulse/internal/rpcclient"
)

const (
	// DefaultMinBlockSpan is the smallest span the chunker halves down to; a
	// too-large error on a query of this span is permanent for those blocks.
	DefaultMinBlockSpan uint64 = 1
	// DefaultMaxChunkSize caps how far a successful run may widen its span.
	DefaultMaxChunkSize uint64 = 2000
)

// FetchFunc issues one eth_getLogs sub-query over an inclusive block range.
type FetchFunc func(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)

// Telemetry receives per-sub-query observations. Implementations must accept
// calls from multiple chains concurrently.
type Telemetry interface {
	ChunkCreated()
	ChunkBlocks(blocks uint64)
	ChunkDuration(seconds float64)
}

// NopTelemetry discards all observations.
type NopTelemetry struct{}

func (NopTelemetry) ChunkCreated()         {}
func (NopTelemetry) ChunkBlocks(uint64)    {}
func (NopTelemetry) ChunkDuration(float64) {}

// Chunker walks a block range in adaptive spans: a too-large response halves
// the span, a success doubles it back up to the ceiling, so one oversized
// window does not pin all later queries to tiny spans.
type Chunker struct {
	MinBlockSpan uint64
	MaxChunkSize uint64
}

// New returns a chunker with the default span bounds.
func New() *Chunker {
	return &Chunker{
		MinBlockSpan: DefaultMinBlockSpan,
		MaxChunkSize: DefaultMaxChunkSize,
	}
}

// FetchLogs retrieves all logs over [fromBlock, toBlock] by issuing adaptive
// sub-queries. The concatenated result is an unordered multiset: sub-query
// boundaries do not preserve block order. A too-large error at the minimum
// span, or any error of another category, aborts the walk.
func (c *Chunker) FetchLogs(ctx context.Context, fromBlock, toBlock uint64, fetch FetchFunc, telemetry Telemetry) ([]types.Log, error) {
	if toBlock < fromBlock {
		return nil, fmt.Errorf("invalid block range: %d > %d", fromBlock, toBlock)
	}
	if telemetry == nil {
		telemetry = NopTelemetry{}
	}

	minSpan := c.MinBlockSpan
	if minSpan == 0 {
		minSpan = DefaultMinBlockSpan
	}
	maxChunk := c.MaxChunkSize
	if maxChunk == 0 {
		maxChunk = DefaultMaxChunkSize
	}

	span := toBlock - fromBlock + 1
	if span > maxChunk {
		span = maxChunk
	}

	var logs []types.Log
	next := fromBlock

	for next <= toBlock {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := next + span - 1
		if end > toBlock {
			end = toBlock
		}
		queried := end - next + 1

		telemetry.ChunkCreated()
		start := time.Now()

		chunk, err := fetch(ctx, next, end)
		telemetry.ChunkBlocks(queried)
		telemetry.ChunkDuration(time.Since(start).Seconds())

		if err != nil {
			if rpcclient.IsTooLargeRange(err) && queried > minSpan {
				span = queried / 2
				if span < minSpan {
					span = minSpan
				}
				continue
			}
			return nil, fmt.Errorf("log query for blocks %d-%d failed: %w", next, end, err)
		}

		logs = append(logs, chunk...)
		next = end + 1

		if span < maxChunk {
			span *= 2
			if span > maxChunk {
				span = maxChunk
			}
		}
	}

	return logs, nil
}
