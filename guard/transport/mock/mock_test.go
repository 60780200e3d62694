package mock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockTransportSend(t *testing.T) {
	a := New("alice")
	b := New("bob")
	Link(a, b)

	received := make(chan string, 1)
	require.NoError(t, b.RegisterHandler(func(ctx context.Context, sender string, payload []byte) error {
		received <- sender + ":" + string(payload)
		return nil
	}))
	require.NoError(t, a.RegisterHandler(func(context.Context, string, []byte) error { return nil }))
	require.Error(t, a.RegisterHandler(func(context.Context, string, []byte) error { return nil }))

	require.NoError(t, a.EnsurePeer("bob", nil))
	require.Error(t, a.EnsurePeer("carol", nil))

	require.NoError(t, a.Send(context.Background(), "bob", []byte("hello")))

	select {
	case got := <-received:
		assert.Equal(t, "alice:hello", got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message delivery")
	}

	assert.Error(t, a.Send(context.Background(), "carol", []byte("x")))
}

func TestMockTransportFilter(t *testing.T) {
	a := New("a")
	b := New("b")
	c := New("c")
	LinkAll(a, b, c)

	var hits atomic.Int32
	count := func(context.Context, string, []byte) error {
		hits.Add(1)
		return nil
	}
	require.NoError(t, b.RegisterHandler(count))
	require.NoError(t, c.RegisterHandler(count))

	a.SetFilter(func(from, to string, _ []byte) bool { return to != "c" })
	require.NoError(t, a.Send(context.Background(), "b", []byte("1")))
	require.NoError(t, a.Send(context.Background(), "c", []byte("2")))
	a.Wait()
	assert.Equal(t, int32(1), hits.Load())

	a.SetFilter(nil)
	require.NoError(t, a.Send(context.Background(), "c", []byte("3")))
	a.Wait()
	assert.Equal(t, int32(2), hits.Load())
}
