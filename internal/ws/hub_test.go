package ws

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSubscriber struct {
	mu       sync.Mutex
	payloads []string
	fail     bool
	closed   bool
}

func (r *recordingSubscriber) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("gone")
	}
	r.payloads = append(r.payloads, string(payload))
	return nil
}

func (r *recordingSubscriber) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recordingSubscriber) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

func (r *recordingSubscriber) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func TestHubRoutesByTopic(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ash := &recordingSubscriber{}
	misty := &recordingSubscriber{}
	everyone := &recordingSubscriber{}
	hub.Register("ash", ash)
	hub.Register("misty", misty)
	hub.Register(AllTopics, everyone)
	require.Equal(t, 3, hub.Subscribers())

	require.True(t, hub.Broadcast("ash", []byte("one")))
	require.True(t, hub.Broadcast("misty", []byte("two")))

	require.Eventually(t, func() bool { return len(everyone.received()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"one"}, ash.received())
	require.Equal(t, []string{"two"}, misty.received())
	require.Equal(t, []string{"one", "two"}, everyone.received())
}

func TestHubDropsFailingSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	bad := &recordingSubscriber{fail: true}
	hub.Register("ash", bad)
	hub.Broadcast("ash", []byte("x"))

	require.Eventually(t, bad.isClosed, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, hub.Subscribers())
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	sub := &recordingSubscriber{}
	hub.Register("ash", sub)
	hub.Unregister("ash", sub)
	require.Equal(t, 0, hub.Subscribers())
}

func TestHubCloseClosesSubscribersAndRejectsWork(t *testing.T) {
	hub := NewHub()
	sub := &recordingSubscriber{}
	hub.Register("ash", sub)
	hub.Close()
	hub.Close()

	require.True(t, sub.isClosed())
	require.False(t, hub.Broadcast("ash", []byte("late")))
	hub.Register("ash", &recordingSubscriber{})
	hub.Unregister("ash", sub)
	require.Equal(t, 0, hub.Subscribers())
}

func TestSSEClientFramesAndHeartbeats(t *testing.T) {
	rec := httptest.NewRecorder()
	client := NewSSEClient(rec, rec, "activity", slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, client.Send([]byte(`{"type":"team.created"}`)))
	require.NoError(t, client.Heartbeat())

	body := rec.Body.String()
	require.Contains(t, body, "id: 1\nevent: activity\ndata: {\"type\":\"team.created\"}\n\n")
	require.True(t, strings.HasSuffix(body, ": ping\n\n"))

	client.Close()
	require.ErrorIs(t, client.Send([]byte("x")), io.EOF)
}

func TestSSEClientServeStopsOnContext(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	client := NewSSEClient(&buf, rec, "activity", slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.Serve(ctx, 5*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return strings.Contains(buf.String(), ": ping")
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	require.ErrorIs(t, client.Heartbeat(), io.EOF)
}
