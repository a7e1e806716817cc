package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amoylab/pigeon/internal/common/cnst"
	"github.com/amoylab/pigeon/internal/common/config"
)

// releaseOwnership deletes an ownership record only if it still names this instance
var releaseOwnership = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendOwnership refreshes the TTL of an ownership record this instance still holds
var extendOwnership = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

const (
	envelopeDeliver = "deliver"
	envelopeResult  = "result"

	resultFull   = "full"
	resultClosed = "closed"

	// replyMargin is held back from the sender's deadline so the owner's
	// result can travel back before the sender gives up.
	replyMargin = 100 * time.Millisecond
	inboxBuffer = 1024
)

// RedisRegistry implements Registry across several processes. Slots always
// live in the process that holds the connect stream; Redis records which
// instance owns each id and carries pushes, and their results, between
// instances over pub/sub.
type RedisRegistry struct {
	logger         *zap.Logger
	client         redis.UniversalClient
	local          *MemoryRegistry
	instance       string
	prefix         string
	topic          string
	ttl            time.Duration
	deliverTimeout time.Duration
	pubsub         *redis.PubSub
	pending        sync.Map // request id -> chan string
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

var _ Registry = (*RedisRegistry)(nil)

// envelope is the pub/sub message exchanged between instances. A deliver
// envelope asks the owner to push a payload; the owner answers with a result
// envelope sent to the ReplyTo instance.
type envelope struct {
	Kind     string `json:"kind"`
	Request  string `json:"request"`
	ReplyTo  string `json:"reply_to,omitempty"`
	ID       ID     `json:"id,omitempty"`
	Payload  string `json:"payload,omitempty"`
	Deadline int64  `json:"deadline,omitempty"` // unix milliseconds
	Result   string `json:"result,omitempty"`
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSlotFull), errors.Is(err, context.DeadlineExceeded):
		return resultFull
	default:
		return resultClosed
	}
}

func errorOf(result string) error {
	switch result {
	case "":
		return nil
	case resultFull:
		return ErrSlotFull
	default:
		return ErrSlotClosed
	}
}

// NewRedisClient builds a Redis client for the configured deployment type
func NewRedisClient(cfg config.SessionRedisConfig) (redis.UniversalClient, error) {
	addrs := splitAddrs(cfg.Addr)
	switch cfg.ClusterType {
	case cnst.RedisClusterTypeSentinel:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
		}), nil
	case cnst.RedisClusterTypeCluster:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Username: cfg.Username,
			Password: cfg.Password,
		}), nil
	case cnst.RedisClusterTypeSingle, "":
		return redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported redis cluster type: %s", cfg.ClusterType)
	}
}

func splitAddrs(addr string) []string {
	var addrs []string
	for _, a := range strings.Split(addr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// NewRedisRegistry creates a Redis-backed session registry. deliverTimeout
// bounds the wait when a remote push lands on a full local slot.
func NewRedisRegistry(ctx context.Context, logger *zap.Logger, cfg config.SessionRedisConfig, deliverTimeout time.Duration) (*RedisRegistry, error) {
	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r := &RedisRegistry{
		logger:         logger.Named("session.registry.redis"),
		client:         client,
		local:          NewMemoryRegistry(logger),
		instance:       uuid.NewString(),
		prefix:         strings.TrimSuffix(cfg.Prefix, ":"),
		topic:          cfg.Topic,
		ttl:            cfg.TTL,
		deliverTimeout: deliverTimeout,
	}

	r.pubsub = client.Subscribe(ctx, r.inbox(r.instance))
	// Wait for the subscription to be confirmed so no delivery is published
	// to an inbox nobody listens on yet.
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe to delivery inbox: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(2)
	go r.handleDeliveries(loopCtx)
	go r.refreshOwnership(loopCtx)

	r.logger.Info("redis session registry ready",
		zap.String("instance", r.instance),
		zap.String("inbox", r.inbox(r.instance)))
	return r, nil
}

func (r *RedisRegistry) ownerKey(id ID) string {
	return r.prefix + ":owner:" + id.String()
}

func (r *RedisRegistry) inbox(instance string) string {
	return r.topic + ":" + instance
}

// Register implements Registry.Register. The ownership record moves to this
// instance, so lookups on every instance route to the new slot.
func (r *RedisRegistry) Register(ctx context.Context, id ID) (Receiver, bool, error) {
	recv, replaced, err := r.local.Register(ctx, id)
	if err != nil {
		return nil, false, err
	}

	prev, err := r.client.SetArgs(ctx, r.ownerKey(id), r.instance, redis.SetArgs{TTL: r.ttl, Get: true}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		_ = r.local.Deregister(ctx, id, recv)
		_ = recv.Close()
		return nil, false, fmt.Errorf("failed to record session ownership: %w", err)
	}
	if prev != "" && prev != r.instance {
		r.logger.Debug("ownership taken over",
			zap.Stringer("id", id),
			zap.String("previous", prev))
	}
	return recv, replaced || prev != "", nil
}

// Lookup implements Registry.Lookup. The ownership record decides where a
// push goes; a local slot is only used while this instance owns the id.
func (r *RedisRegistry) Lookup(ctx context.Context, id ID) (Sender, error) {
	owner, err := r.client.Get(ctx, r.ownerKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to resolve session owner: %w", err)
	}
	if owner == r.instance {
		// the record may outlive the local slot
		return r.local.Lookup(ctx, id)
	}
	return &remoteSender{registry: r, id: id, owner: owner}, nil
}

// Deregister implements Registry.Deregister
func (r *RedisRegistry) Deregister(ctx context.Context, id ID, recv Receiver) error {
	if err := r.local.Deregister(ctx, id, recv); err != nil {
		return err
	}
	if err := releaseOwnership.Run(ctx, r.client, []string{r.ownerKey(id)}, r.instance).Err(); err != nil {
		return fmt.Errorf("failed to release session ownership: %w", err)
	}
	return nil
}

// Len implements Registry.Len
func (r *RedisRegistry) Len() int {
	return r.local.Len()
}

// Close implements Registry.Close
func (r *RedisRegistry) Close() error {
	r.cancel()
	ids := r.local.IDs()
	if len(ids) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, id := range ids {
			_ = releaseOwnership.Run(ctx, r.client, []string{r.ownerKey(id)}, r.instance).Err()
		}
		cancel()
	}
	_ = r.local.Close()

	var errs []error
	if err := r.pubsub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close pubsub: %w", err))
	}
	r.wg.Wait()
	if err := r.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// handleDeliveries dispatches the envelopes published to this instance.
// Every push runs on its own goroutine so a full slot never holds up others.
func (r *RedisRegistry) handleDeliveries(ctx context.Context) {
	defer r.wg.Done()

	ch := r.pubsub.Channel(redis.WithChannelSize(inboxBuffer))
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Error("failed to unmarshal envelope",
					zap.Error(err),
					zap.String("payload", msg.Payload))
				continue
			}

			switch env.Kind {
			case envelopeDeliver:
				r.wg.Add(1)
				go func() {
					defer r.wg.Done()
					r.deliverLocal(ctx, env)
				}()
			case envelopeResult:
				if waiter, ok := r.pending.Load(env.Request); ok {
					select {
					case waiter.(chan string) <- env.Result:
					default:
					}
				}
			default:
				r.logger.Warn("unknown envelope kind", zap.String("kind", env.Kind))
			}
		}
	}
}

// deliverLocal pushes a remote payload into the local slot and reports the
// outcome back to the requesting instance.
func (r *RedisRegistry) deliverLocal(ctx context.Context, env envelope) {
	deadline := time.Now().Add(r.deliverTimeout)
	if env.Deadline > 0 {
		if d := time.UnixMilli(env.Deadline).Add(-replyMargin); d.Before(deadline) {
			deadline = d
		}
	}

	var err error
	if !time.Now().Before(deadline) {
		// the sender has already given up
		err = ErrSlotFull
	} else if sender, lookupErr := r.local.Lookup(ctx, env.ID); lookupErr != nil {
		err = ErrSlotClosed
	} else {
		pushCtx, cancel := context.WithDeadline(ctx, deadline)
		err = sender.Push(pushCtx, env.Payload)
		cancel()
	}
	if err != nil {
		r.logger.Debug("remote delivery failed",
			zap.Stringer("id", env.ID),
			zap.String("reply_to", env.ReplyTo),
			zap.Error(err))
	}

	if env.ReplyTo == "" {
		return
	}
	data, mErr := json.Marshal(envelope{Kind: envelopeResult, Request: env.Request, Result: resultOf(err)})
	if mErr != nil {
		r.logger.Error("failed to marshal result", zap.Error(mErr))
		return
	}
	if pErr := r.client.Publish(ctx, r.inbox(env.ReplyTo), data).Err(); pErr != nil && ctx.Err() == nil {
		r.logger.Warn("failed to publish delivery result",
			zap.Stringer("id", env.ID),
			zap.Error(pErr))
	}
}

// refreshOwnership keeps the ownership records of open streams alive
func (r *RedisRegistry) refreshOwnership(ctx context.Context) {
	defer r.wg.Done()

	interval := r.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids := r.local.IDs()
			if len(ids) == 0 {
				continue
			}
			_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
				for _, id := range ids {
					extendOwnership.Eval(ctx, p, []string{r.ownerKey(id)}, r.instance, r.ttl.Milliseconds())
				}
				return nil
			})
			if err != nil && !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				r.logger.Warn("failed to refresh session ownership",
					zap.Int("count", len(ids)),
					zap.Error(err))
			}
		}
	}
}

// remoteSender publishes pushes to the instance owning the session
type remoteSender struct {
	registry *RedisRegistry
	id       ID
	owner    string
}

// Push implements Sender.Push. It waits for the owning instance to report
// the outcome of its local push, bounded by ctx.
func (s *remoteSender) Push(ctx context.Context, payload string) error {
	r := s.registry
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.deliverTimeout+replyMargin)
		defer cancel()
	}
	deadline, _ := ctx.Deadline()

	env := envelope{
		Kind:     envelopeDeliver,
		Request:  uuid.NewString(),
		ReplyTo:  r.instance,
		ID:       s.id,
		Payload:  payload,
		Deadline: deadline.UnixMilli(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	waiter := make(chan string, 1)
	r.pending.Store(env.Request, waiter)
	defer r.pending.Delete(env.Request)

	receivers, err := r.client.Publish(ctx, r.inbox(s.owner), data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish delivery: %w", err)
	}
	if receivers == 0 {
		return ErrSlotClosed
	}

	select {
	case result := <-waiter:
		return errorOf(result)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrSlotFull
		}
		return ctx.Err()
	}
}
