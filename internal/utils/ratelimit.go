package utils

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// NewBandwidthLimiter returns nil for an unlimited rate.
func NewBandwidthLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(min(bytesPerSecond, int64(DefaultBufferSize)))
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// LimitReader throttles reads from r through limiter. A nil limiter returns r.
func LimitReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &limitedReader{ctx: ctx, r: r, limiter: limiter}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if len(p) > l.limiter.Burst() {
		p = p[:l.limiter.Burst()]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if waitErr := l.limiter.WaitN(l.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
