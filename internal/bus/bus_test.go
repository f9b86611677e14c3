package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/walletguard/internal/protocol"
)

func recv(t *testing.T, s *Subscription) protocol.Message {
	t.Helper()
	select {
	case m, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPublish_BroadcastsToEverySubscriber(t *testing.T) {
	b := New(nil)
	a := b.Subscribe("a")
	c := b.Subscribe("c")

	b.Publish(protocol.Proceed("tx_1", protocol.SourceAuto, ""))

	assert.Equal(t, protocol.CorrelationID("tx_1"), recv(t, a).Correlation())
	assert.Equal(t, protocol.CorrelationID("tx_1"), recv(t, c).Correlation())
}

func TestSubscribe_FiltersByKind(t *testing.T) {
	b := New(nil)
	decisions := b.Subscribe("interceptor", protocol.KindDecision)

	b.Publish(protocol.AnalysisRequest{CorrelationID: "tx_req"})
	b.Publish(protocol.Reject("tx_dec", protocol.SourceUser, "no"))

	m := recv(t, decisions)
	assert.Equal(t, protocol.KindDecision, m.Kind())
	assert.Equal(t, protocol.CorrelationID("tx_dec"), m.Correlation())

	select {
	case extra := <-decisions.C():
		t.Fatalf("unexpected message %v", extra)
	default:
	}
}

func TestPublish_DropsWhenQueueFull(t *testing.T) {
	b := New(nil, WithQueueSize(1))
	s := b.Subscribe("slow")

	b.Publish(protocol.AnalysisRequest{CorrelationID: "tx_1"})
	b.Publish(protocol.AnalysisRequest{CorrelationID: "tx_2"}) // dropped, must not block

	assert.Equal(t, protocol.CorrelationID("tx_1"), recv(t, s).Correlation())
	select {
	case m := <-s.C():
		t.Fatalf("expected drop, got %v", m)
	default:
	}
}

func TestClose_IsIdempotentAndPublishIsSafe(t *testing.T) {
	b := New(nil)
	s := b.Subscribe("x")
	s.Close()
	s.Close()
	assert.Equal(t, 0, b.Subscribers())

	_, ok := <-s.C()
	assert.False(t, ok)

	b.Close()
	b.Close()
	assert.NotPanics(t, func() { b.Publish(protocol.AnalysisRequest{CorrelationID: "tx"}) })

	late := b.Subscribe("late")
	_, ok = <-late.C()
	assert.False(t, ok)
	assert.NotPanics(t, late.Close)
}

func TestPublish_ConcurrentWithClose(t *testing.T) {
	b := New(nil, WithQueueSize(4))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := b.Subscribe("s")
			for j := 0; j < 50; j++ {
				b.Publish(protocol.AnalysisRequest{CorrelationID: "tx"})
			}
			s.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.Subscribers())
}
