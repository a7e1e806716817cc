package session

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/pigeon/internal/common/cnst"
	"github.com/amoylab/pigeon/internal/common/config"
)

func testRedisConfig(addr string) config.SessionRedisConfig {
	return config.SessionRedisConfig{
		ClusterType: cnst.RedisClusterTypeSingle,
		Addr:        addr,
		Topic:       "pigeon:test",
		Prefix:      "testsess",
		TTL:         5 * time.Second,
	}
}

func newTestRedisRegistry(t *testing.T, mr *miniredis.Miniredis) *RedisRegistry {
	t.Helper()
	return newTestRedisRegistryWithTimeout(t, mr, 200*time.Millisecond)
}

func newTestRedisRegistryWithTimeout(t *testing.T, mr *miniredis.Miniredis, deliverTimeout time.Duration) *RedisRegistry {
	t.Helper()
	r, err := NewRedisRegistry(context.Background(), zap.NewNop(), testRedisConfig(mr.Addr()), deliverTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestNewRedisRegistry_ConnectionError(t *testing.T) {
	r, err := NewRedisRegistry(context.Background(), zap.NewNop(), testRedisConfig("127.0.0.1:0"), time.Second)
	assert.Nil(t, r)
	assert.Error(t, err)
}

func TestNewRedisClient_UnsupportedType(t *testing.T) {
	cfg := testRedisConfig("127.0.0.1:6379")
	cfg.ClusterType = "mesh"
	_, err := NewRedisClient(cfg)
	assert.Error(t, err)
}

func TestRedisRegistry_LocalDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	r := newTestRedisRegistry(t, mr)
	ctx := context.Background()

	recv, replaced, err := r.Register(ctx, 11)
	require.NoError(t, err)
	assert.False(t, replaced)
	owner, err := mr.Get("testsess:owner:11")
	require.NoError(t, err)
	assert.Equal(t, r.instance, owner)

	sender, err := r.Lookup(ctx, 11)
	require.NoError(t, err)
	_, isSlot := sender.(*Slot)
	assert.True(t, isSlot)
	require.NoError(t, sender.Push(ctx, "local"))
	assert.Equal(t, "local", <-recv.Frames())

	require.NoError(t, r.Deregister(ctx, 11, recv))
	assert.False(t, mr.Exists("testsess:owner:11"))
	_, err = r.Lookup(ctx, 11)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisRegistry_RemoteDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	owner := newTestRedisRegistry(t, mr)
	peer := newTestRedisRegistry(t, mr)
	ctx := context.Background()

	recv, _, err := owner.Register(ctx, 99)
	require.NoError(t, err)

	sender, err := peer.Lookup(ctx, 99)
	require.NoError(t, err)
	_, isRemote := sender.(*remoteSender)
	assert.True(t, isRemote)

	require.NoError(t, sender.Push(ctx, "across"))
	select {
	case got := <-recv.Frames():
		assert.Equal(t, "across", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for remote delivery")
	}
}

func receiveWithin(t *testing.T, recv Receiver, d time.Duration) string {
	t.Helper()
	select {
	case got := <-recv.Frames():
		return got
	case <-time.After(d):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func TestRedisRegistry_TakeoverRoutesToNewOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestRedisRegistry(t, mr)
	b := newTestRedisRegistry(t, mr)
	ctx := context.Background()

	old, replaced, err := a.Register(ctx, 5)
	require.NoError(t, err)
	assert.False(t, replaced)
	current, replaced, err := b.Register(ctx, 5)
	require.NoError(t, err)
	assert.True(t, replaced)

	// a still holds its old slot locally, but b owns the id now
	sender, err := a.Lookup(ctx, 5)
	require.NoError(t, err)
	_, isRemote := sender.(*remoteSender)
	assert.True(t, isRemote)

	require.NoError(t, sender.Push(ctx, "hello"))
	assert.Equal(t, "hello", receiveWithin(t, current, 2*time.Second))
	select {
	case f := <-old.Frames():
		t.Fatalf("superseded receiver got %q", f)
	default:
	}

	// tearing down the old stream on a leaves b's ownership alone
	require.NoError(t, a.Deregister(ctx, 5, old))
	owner, err := mr.Get("testsess:owner:5")
	require.NoError(t, err)
	assert.Equal(t, b.instance, owner)
}

func TestRedisRegistry_RemotePushWaitsForDrain(t *testing.T) {
	mr := miniredis.RunT(t)
	owner := newTestRedisRegistryWithTimeout(t, mr, 2*time.Second)
	peer := newTestRedisRegistry(t, mr)
	ctx := context.Background()

	recv, _, err := owner.Register(ctx, 21)
	require.NoError(t, err)
	sender, err := peer.Lookup(ctx, 21)
	require.NoError(t, err)

	pushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, sender.Push(pushCtx, "first"))

	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(100 * time.Millisecond)
		got = append(got, <-recv.Frames())
	}()

	require.NoError(t, sender.Push(pushCtx, "second"))
	<-done
	got = append(got, receiveWithin(t, recv, time.Second))
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestRedisRegistry_RemotePushIntoFullSlotFails(t *testing.T) {
	mr := miniredis.RunT(t)
	owner := newTestRedisRegistryWithTimeout(t, mr, 2*time.Second)
	peer := newTestRedisRegistry(t, mr)
	ctx := context.Background()

	recv, _, err := owner.Register(ctx, 22)
	require.NoError(t, err)
	sender, err := peer.Lookup(ctx, 22)
	require.NoError(t, err)

	require.NoError(t, sender.Push(ctx, "first"))

	pushCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sender.Push(pushCtx, "second"), ErrSlotFull)

	// the rejected payload never shows up behind the pending one
	assert.Equal(t, "first", receiveWithin(t, recv, time.Second))
	time.Sleep(200 * time.Millisecond)
	select {
	case f := <-recv.Frames():
		t.Fatalf("rejected payload delivered: %q", f)
	default:
	}
}

func TestRedisRegistry_RemotePushAfterOwnerDisconnect(t *testing.T) {
	mr := miniredis.RunT(t)
	owner := newTestRedisRegistry(t, mr)
	peer := newTestRedisRegistry(t, mr)
	ctx := context.Background()

	recv, _, err := owner.Register(ctx, 23)
	require.NoError(t, err)
	sender, err := peer.Lookup(ctx, 23)
	require.NoError(t, err)

	require.NoError(t, owner.Deregister(ctx, 23, recv))
	require.NoError(t, recv.Close())

	pushCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.ErrorIs(t, sender.Push(pushCtx, "late"), ErrSlotClosed)
}

func TestRedisRegistry_FullSlotDoesNotStallOthers(t *testing.T) {
	mr := miniredis.RunT(t)
	owner := newTestRedisRegistryWithTimeout(t, mr, 5*time.Second)
	peer := newTestRedisRegistry(t, mr)
	ctx := context.Background()

	_, _, err := owner.Register(ctx, 31)
	require.NoError(t, err)
	free, _, err := owner.Register(ctx, 32)
	require.NoError(t, err)

	stalled, err := peer.Lookup(ctx, 31)
	require.NoError(t, err)
	require.NoError(t, stalled.Push(ctx, "fills the slot"))

	// a push that waits on the full slot for seconds
	blocked := make(chan error, 1)
	go func() {
		pushCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		blocked <- stalled.Push(pushCtx, "waits")
	}()
	time.Sleep(50 * time.Millisecond)

	other, err := peer.Lookup(ctx, 32)
	require.NoError(t, err)
	pushCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, other.Push(pushCtx, "unrelated"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "unrelated", receiveWithin(t, free, time.Second))

	assert.ErrorIs(t, <-blocked, ErrSlotFull)
}

func TestRedisRegistry_RemoteOwnerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	peer := newTestRedisRegistry(t, mr)
	ctx := context.Background()

	// an ownership record whose instance no longer listens
	require.NoError(t, mr.Set("testsess:owner:7", "dead-instance"))

	sender, err := peer.Lookup(ctx, 7)
	require.NoError(t, err)
	assert.ErrorIs(t, sender.Push(ctx, "x"), ErrSlotClosed)
}

func TestRedisRegistry_SupersededDeregisterKeepsOwnership(t *testing.T) {
	mr := miniredis.RunT(t)
	r := newTestRedisRegistry(t, mr)
	ctx := context.Background()

	first, _, err := r.Register(ctx, 3)
	require.NoError(t, err)
	_, replaced, err := r.Register(ctx, 3)
	require.NoError(t, err)
	assert.True(t, replaced)

	assert.ErrorIs(t, r.Deregister(ctx, 3, first), ErrSessionNotFound)
	assert.True(t, mr.Exists("testsess:owner:3"))
}

func TestRedisRegistry_StaleSelfRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	r := newTestRedisRegistry(t, mr)
	require.NoError(t, mr.Set("testsess:owner:8", r.instance))

	_, err := r.Lookup(context.Background(), 8)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNewRegistry_Factory(t *testing.T) {
	ctx := context.Background()

	reg, err := NewRegistry(ctx, zap.NewNop(), &config.SessionConfig{Type: "memory"}, time.Second)
	require.NoError(t, err)
	_, ok := reg.(*MemoryRegistry)
	assert.True(t, ok)

	mr := miniredis.RunT(t)
	reg, err = NewRegistry(ctx, zap.NewNop(), &config.SessionConfig{Type: "redis", Redis: testRedisConfig(mr.Addr())}, time.Second)
	require.NoError(t, err)
	_, ok = reg.(*RedisRegistry)
	assert.True(t, ok)
	assert.NoError(t, reg.Close())

	_, err = NewRegistry(ctx, zap.NewNop(), &config.SessionConfig{Type: "etcd"}, time.Second)
	assert.ErrorIs(t, err, cnst.ErrUnsupportedStoreType)
}
