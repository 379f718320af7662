package datasource

import (
	"context"
	"fmt"
	"io"
	"time"
)

// WrapLimit nests the query in an outer SELECT with a LIMIT. An inner LIMIT,
// if present, still applies; the outer bound only tightens it.
func WrapLimit(sqlQuery string, limit int) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, limit)
}

// WrapCount builds the smart-count form: counting over the query capped at
// cap+1 rows, so the caller can distinguish "exactly n" from "more than cap".
func WrapCount(sqlQuery string, cap int) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM (SELECT * FROM (%s) AS _q LIMIT %d) AS _capped", sqlQuery, cap+1)
}

// SmartCountResult interprets a capped count: counts above cap collapse to
// CountUnknown.
func SmartCountResult(counted, cap int) int {
	if counted > cap {
		return CountUnknown
	}
	return counted
}

// chunkTimeoutIterator enforces a per-read timeout on a row stream. Each
// Next call re-arms the timer; if a read stalls past the timeout the
// underlying query context is cancelled.
type chunkTimeoutIterator struct {
	inner   RowIterator
	timer   *time.Timer
	cancel  context.CancelFunc
	timeout time.Duration
}

// NewChunkTimeoutIterator wraps an iterator so each row read is bounded by
// timeout. cancel must abort the underlying query when invoked.
func NewChunkTimeoutIterator(inner RowIterator, cancel context.CancelFunc, timeout time.Duration) RowIterator {
	it := &chunkTimeoutIterator{
		inner:   inner,
		cancel:  cancel,
		timeout: timeout,
	}
	it.timer = time.AfterFunc(timeout, cancel)
	return it
}

func (it *chunkTimeoutIterator) Columns() []string {
	return it.inner.Columns()
}

func (it *chunkTimeoutIterator) Next() ([]any, error) {
	it.timer.Reset(it.timeout)
	row, err := it.inner.Next()
	if err == io.EOF {
		it.timer.Stop()
	}
	return row, err
}

func (it *chunkTimeoutIterator) Close() error {
	it.timer.Stop()
	it.cancel()
	return it.inner.Close()
}
