package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/amoylab/pigeon/internal/common/cnst"
	"github.com/amoylab/pigeon/internal/session"
	"github.com/amoylab/pigeon/internal/template"
	"github.com/amoylab/pigeon/pkg/metrics"
	"github.com/amoylab/pigeon/pkg/trace"
)

// Options tunes delivery behaviour
type Options struct {
	SendTimeout   time.Duration
	KeepAlive     time.Duration
	KeepAliveText string
	EchoToSender  bool
}

func (o *Options) applyDefaults() {
	if o.SendTimeout <= 0 {
		o.SendTimeout = time.Second
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 15 * time.Second
	}
	if o.KeepAliveText == "" {
		o.KeepAliveText = cnst.DefaultKeepAliveText
	}
}

// SendRequest asks for one message to be delivered to TargetID
type SendRequest struct {
	TargetID session.ID
	Message  string
}

// Broker orchestrates connect streams and point-to-point sends on top of a
// session registry
type Broker struct {
	logger   *zap.Logger
	registry session.Registry
	renderer *template.Renderer
	metrics  *metrics.Metrics
	opts     Options
	tracer   *trace.Builder
}

// New creates a broker. metrics may be nil.
func New(logger *zap.Logger, registry session.Registry, renderer *template.Renderer, m *metrics.Metrics, opts Options) *Broker {
	opts.applyDefaults()
	return &Broker{
		logger:   logger.Named("broker"),
		registry: registry,
		renderer: renderer,
		metrics:  m,
		opts:     opts,
		tracer:   trace.Tracer(cnst.TraceBroker),
	}
}

// Options returns the effective options
func (b *Broker) Options() Options {
	return b.opts
}

func (b *Broker) ready() bool {
	return b != nil && b.registry != nil && b.renderer != nil
}

// Connect registers id and returns the stream of frames for it. An earlier
// registration of the same id is superseded without notice.
func (b *Broker) Connect(ctx context.Context, id session.ID) (*Stream, error) {
	if !b.ready() {
		return nil, ErrUnavailable
	}

	scope := b.tracer.Start(ctx, cnst.SpanConnect).
		WithAttrs(attribute.String(cnst.AttrSessionID, id.String()))
	defer scope.End()

	recv, superseded, err := b.registry.Register(scope.Ctx, id)
	if err != nil {
		scope.Fail(err)
		b.logger.Error("failed to register session", zap.Stringer("id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	b.metrics.StreamOpened(superseded)
	b.logger.Debug("stream opened", zap.Stringer("id", id), zap.Bool("superseded", superseded))
	return newStream(b, recv), nil
}

// Send renders req.Message as coming from `from` and pushes it to the
// target. With echo enabled the same payload is also pushed to the sender.
func (b *Broker) Send(ctx context.Context, from session.ID, req SendRequest) (err error) {
	if !b.ready() {
		return ErrUnavailable
	}

	start := time.Now()
	echo := b.opts.EchoToSender && from != req.TargetID
	scope := b.tracer.Start(ctx, cnst.SpanSend).WithAttrs(
		attribute.String(cnst.AttrSenderID, from.String()),
		attribute.String(cnst.AttrTargetID, req.TargetID.String()),
		attribute.Bool(cnst.AttrEcho, echo),
	)
	defer func() {
		outcome := outcomeOf(err)
		scope.WithAttrs(attribute.String(cnst.AttrOutcome, outcome)).Fail(err).End()
		b.metrics.SendDone(outcome, start)
	}()

	var fromSender, targetSender session.Sender
	g, gctx := errgroup.WithContext(scope.Ctx)
	g.Go(func() error {
		s, err := b.registry.Lookup(gctx, from)
		fromSender = s
		return err
	})
	g.Go(func() error {
		s, err := b.registry.Lookup(gctx, req.TargetID)
		targetSender = s
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrNotFound
		}
		b.logger.Error("failed to resolve sessions",
			zap.Stringer("from", from),
			zap.Stringer("target", req.TargetID),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	payload, err := b.renderer.Render(template.NewContext(from.String(), req.Message))
	if err != nil {
		b.logger.Error("failed to render payload", zap.Stringer("from", from), zap.Error(err))
		return fmt.Errorf("%w: render: %v", ErrDeliveryFailed, err)
	}

	if err := b.push(scope.Ctx, req.TargetID, targetSender, payload); err != nil {
		return err
	}
	if echo {
		if err := b.push(scope.Ctx, from, fromSender, payload); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broker) push(ctx context.Context, id session.ID, s session.Sender, payload string) error {
	scope := b.tracer.Start(ctx, cnst.SpanPush).
		WithAttrs(attribute.String(cnst.AttrSessionID, id.String()))
	defer scope.End()

	pushCtx, cancel := context.WithTimeout(scope.Ctx, b.opts.SendTimeout)
	defer cancel()

	if err := s.Push(pushCtx, payload); err != nil {
		scope.Fail(err)
		b.logger.Warn("push failed", zap.Stringer("id", id), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeDelivered
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrUnavailable):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeFailed
	}
}

// Close releases the registry
func (b *Broker) Close() error {
	if !b.ready() {
		return nil
	}
	return b.registry.Close()
}
