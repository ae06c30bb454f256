package redisbus

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/drawroom/internal/services/collab/broadcast"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testAddrEnv = "DRAWROOM_TEST_REDIS_ADDR"

type recordingMember struct {
	id       string
	received chan broadcast.Notification
}

func newRecordingMember(id string) *recordingMember {
	return &recordingMember{id: id, received: make(chan broadcast.Notification, 8)}
}

func (m *recordingMember) ConnectionID() string { return m.id }

func (m *recordingMember) Notify(notification broadcast.Notification) {
	if broadcast.IsOwn(m, notification) {
		return
	}
	m.received <- notification
}

func TestChannel(t *testing.T) {
	require.Equal(t, "drawroom:room:lecture", Channel(" lecture "))
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
}

func TestBusRelaysAcrossInstances(t *testing.T) {
	client := openTestClient(t)
	room := "room-" + strings.ReplaceAll(t.Name(), "/", "-")

	first := newTestBus(t, client)
	second := newTestBus(t, client)

	ctx := context.Background()
	sender := newRecordingMember("sender")
	peer := newRecordingMember("peer")
	require.NoError(t, first.Join(ctx, room, sender))
	require.NoError(t, second.Join(ctx, room, peer))

	payload := json.RawMessage(`{"eventtype":"elements_changed","elements":[]}`)
	require.NoError(t, first.Send(ctx, room, broadcast.Notification{Sender: "sender", Payload: payload}))

	select {
	case got := <-peer.received:
		require.Equal(t, "sender", got.Sender)
		require.JSONEq(t, string(payload), string(got.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not receive notification")
	}

	select {
	case got := <-sender.received:
		t.Fatalf("sender received its own notification: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusLeaveStopsSubscription(t *testing.T) {
	client := openTestClient(t)
	room := "room-" + strings.ReplaceAll(t.Name(), "/", "-")
	bus := newTestBus(t, client)

	ctx := context.Background()
	member := newRecordingMember("member")
	require.NoError(t, bus.Join(ctx, room, member))
	require.NoError(t, bus.Leave(ctx, room, member))

	bus.mu.Lock()
	_, subscribed := bus.subscribers[room]
	bus.mu.Unlock()
	require.False(t, subscribed)
}

func TestBusCloseWaitsForWorkers(t *testing.T) {
	client := openTestClient(t)
	bus, err := New(client, zaptest.NewLogger(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Join(context.Background(), "close-room", newRecordingMember(string(rune('a'+i))))
		}()
	}
	wg.Wait()
	require.NoError(t, bus.Close())
	require.Error(t, bus.Join(context.Background(), "another-room", newRecordingMember("late")))
}

func newTestBus(t *testing.T, client *redis.Client) *Bus {
	t.Helper()
	bus, err := New(client, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func openTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv(testAddrEnv))
	if addr == "" {
		t.Skipf("%s is not set", testAddrEnv)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}
