package socks5

import (
	"context"
	"io"
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// relayBufSize is the per-direction copy buffer size.
const relayBufSize = 32 * 1024

// halfCloser is implemented by connections that support shutting down
// one direction while keeping the other open (e.g. *net.TCPConn).
type halfCloser interface {
	CloseWrite() error
}

// relayStats reports the bytes moved in each direction of a finished
// Relay, used for the termination notification.
type relayStats struct {
	ClientToEndpoint int64
	EndpointToClient int64
}

// runRelay drives the bidirectional byte copy between client and
// endpoint until both directions have seen EOF or an error, then
// returns. It never imposes its own timeout and never inspects bytes.
// bandwidthLimit, if non-zero, caps each direction's throughput in
// bytes/sec via a token bucket.
func runRelay(ctx context.Context, client, endpoint net.Conn, bandwidthLimit int64) (relayStats, error) {
	var stats relayStats
	var firstErr error
	var once sync.Once
	recordErr := func(err error) {
		if err != nil && err != io.EOF {
			once.Do(func() { firstErr = err })
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, err := copyDirection(ctx, endpoint, client, bandwidthLimit)
		stats.ClientToEndpoint = n
		recordErr(err)
	}()

	go func() {
		defer wg.Done()
		n, err := copyDirection(ctx, client, endpoint, bandwidthLimit)
		stats.EndpointToClient = n
		recordErr(err)
	}()

	wg.Wait()
	return stats, firstErr
}

// copyDirection copies src -> dst, optionally rate-limited, then
// half-closes dst's write side (or falls back to closing it entirely
// if it doesn't support CloseWrite).
func copyDirection(ctx context.Context, dst io.Writer, src io.Reader, bandwidthLimit int64) (int64, error) {
	if bandwidthLimit > 0 {
		src = newRateLimitedReader(ctx, src, bandwidthLimit)
	}

	buf := make([]byte, relayBufSize)
	n, err := io.CopyBuffer(dst, src, buf)

	if hc, ok := dst.(halfCloser); ok {
		hc.CloseWrite()
	} else if c, ok := dst.(io.Closer); ok {
		c.Close()
	}

	return n, err
}

// newRateLimitedReader wraps r with a token-bucket throttle limiting
// throughput to bytesPerSecond. Burst is one relay buffer's worth so a
// single Read never stalls mid-copy.
func newRateLimitedReader(ctx context.Context, r io.Reader, bytesPerSecond int64) io.Reader {
	limiter := rate.NewLimiter(rate.Limit(bytesPerSecond), relayBufSize)
	return &rateLimitedReader{r: r, limiter: limiter, ctx: ctx}
}

type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n <= 0 {
		return n, err
	}
	if waitErr := r.limiter.WaitN(r.ctx, n); waitErr != nil {
		return n, waitErr
	}
	return n, err
}
