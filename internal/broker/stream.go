package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amoylab/pigeon/internal/common/cnst"
	"github.com/amoylab/pigeon/internal/session"
)

// Frame is one unit written to a connect stream
type Frame struct {
	Event     string
	Data      string
	KeepAlive bool
}

// Stream yields the frames of one connect. It is not safe for concurrent use
// by more than one reader.
type Stream struct {
	broker *Broker
	recv   session.Receiver
	ticker *time.Ticker
	once   sync.Once
}

func newStream(b *Broker, recv session.Receiver) *Stream {
	return &Stream{
		broker: b,
		recv:   recv,
		ticker: time.NewTicker(b.opts.KeepAlive),
	}
}

// ID returns the session id the stream is registered under
func (s *Stream) ID() session.ID {
	return s.recv.ID()
}

// Next blocks until a message arrives, the keep-alive interval elapses
// without one, or the stream ends. It returns ctx.Err() when ctx is done and
// ErrStreamClosed once the stream has been closed.
func (s *Stream) Next(ctx context.Context) (Frame, error) {
	select {
	case <-s.recv.Done():
		return Frame{}, ErrStreamClosed
	default:
	}

	select {
	case data := <-s.recv.Frames():
		s.ticker.Reset(s.broker.opts.KeepAlive)
		s.broker.metrics.FrameSent()
		return Frame{Event: cnst.EventMessage, Data: data}, nil
	case <-s.ticker.C:
		s.broker.metrics.KeepAliveSent()
		return Frame{KeepAlive: true, Data: s.broker.opts.KeepAliveText}, nil
	case <-s.recv.Done():
		return Frame{}, ErrStreamClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close ends the stream: the slot is closed so pending pushes fail fast, and
// the registration is removed unless a newer connect superseded it.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		s.ticker.Stop()
		_ = s.recv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if derr := s.broker.registry.Deregister(ctx, s.recv.ID(), s.recv); derr != nil && !errors.Is(derr, session.ErrSessionNotFound) {
			s.broker.logger.Warn("failed to deregister session", zap.Stringer("id", s.recv.ID()), zap.Error(derr))
			err = derr
		}
		s.broker.metrics.StreamClosed()
		s.broker.logger.Debug("stream closed", zap.Stringer("id", s.recv.ID()))
	})
	return err
}
