package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tontine/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []events.Event
	fail bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, evt events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, evt)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func sampleEvent(id int64, typ events.Type) events.Event {
	return events.Event{ID: snowflake.ID(1000 + id), Type: typ, AggregateType: events.AggregateCommission, AggregateID: 7, OccurredAt: time.Unix(0, 0).UTC()}
}

func TestDispatcherDeliversToEverySink(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{fail: true}
	d := NewDispatcher(zap.NewNop(), nil, Options{Workers: 2}, failing, ok)
	d.Start()

	for i := int64(0); i < 10; i++ {
		d.Dispatch(context.Background(), sampleEvent(i, events.CommissionPaid))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	assert.Equal(t, 10, ok.count(), "a failing sink must not prevent delivery to the others")
	assert.Equal(t, 10, failing.count())
}

func TestDispatchAfterStopDrops(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(zap.NewNop(), nil, Options{}, sink)
	d.Start()
	require.NoError(t, d.Stop(context.Background()))

	d.Dispatch(context.Background(), sampleEvent(1, events.ObligationMarked))
	assert.Equal(t, 0, sink.count())
}

func TestDispatchDoesNotBlockWhenQueueIsFull(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(zap.NewNop(), nil, Options{QueueSize: 1}, sink)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(0); i < 5; i++ {
			d.Dispatch(context.Background(), sampleEvent(i, events.ObligationMarked))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}

	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, 1, sink.count())
}

func TestWebhookSinkPostsEvent(t *testing.T) {
	var hits atomic.Int32
	var received events.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, string(events.CommissionPaid), r.Header.Get("X-Event-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second, zap.NewNop())
	evt := sampleEvent(3, events.CommissionPaid)
	require.NoError(t, sink.Send(context.Background(), evt))

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, evt.ID, received.ID)
	assert.Equal(t, evt.Type, received.Type)
}

func TestWebhookSinkReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second, zap.NewNop())
	err := sink.Send(context.Background(), sampleEvent(4, events.SubscriptionCompleted))
	require.Error(t, err)
}
