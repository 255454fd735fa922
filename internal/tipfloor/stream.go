// internal/tipfloor/stream.go
package tipfloor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

const (
	streamInitialDelay = 500 * time.Millisecond
	streamMaxDelay     = 30 * time.Second
)

var errStreamClosed = errors.New("tip stream closed")

// Stream subscribes to the websocket tip stream and stores every valid message.
// Disconnects are retried forever with exponential backoff; only ctx ends it.
func (s *Source) Stream(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = streamInitialDelay
	policy.MaxInterval = streamMaxDelay

	_, _ = backoff.Retry(ctx, func() (struct{}, error) {
		received, err := s.streamOnce(ctx)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if received > 0 {
			// The connection was healthy; start the next backoff cycle from scratch.
			return struct{}{}, backoff.RetryAfter(1)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("Tip stream disconnected, reconnecting",
				zap.String("url", s.streamURL),
				zap.Duration("retry_in", next),
				zap.Error(err))
		}),
	)
	s.logger.Info("Tip stream stopped")
}

// streamOnce holds one websocket session and returns the number of snapshots
// stored before it ended.
func (s *Source) streamOnce(ctx context.Context) (int, error) {
	conn, br, _, err := ws.Dial(ctx, s.streamURL)
	if err != nil {
		return 0, fmt.Errorf("dial failed: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	s.metrics.SetStreamConnected(true)
	defer s.metrics.SetStreamConnected(false)
	s.logger.Info("Tip stream connected", zap.String("url", s.streamURL))

	// Frames sent right after the handshake may already sit in br.
	var rw io.ReadWriter = conn
	if br != nil {
		defer ws.PutReader(br)
		rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}

	received := 0
	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			if received > 0 {
				return received, fmt.Errorf("%w: %v", errStreamClosed, err)
			}
			return received, fmt.Errorf("read failed: %w", err)
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		snapshot, err := ParseSnapshot(data)
		if err != nil {
			s.logger.Debug("Skipping malformed tip stream message", zap.Error(err))
			s.metrics.RecordTipRefresh("stream", false)
			continue
		}
		s.store(snapshot, "stream")
		received++
	}
}
