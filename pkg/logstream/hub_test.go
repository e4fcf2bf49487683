package logstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(expID, line string) Entry {
	return Entry{ExperimentID: expID, Severity: SeverityInfo, Line: line, Time: time.Now().UTC()}
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	h := NewHub()
	defer h.Close()

	id, ch := h.Subscribe("exp-1")
	defer h.Unsubscribe("exp-1", id)

	h.Publish(entry("exp-1", "hello"))

	select {
	case got := <-ch:
		assert.Equal(t, "hello", got.Line)
		assert.Equal(t, "exp-1", got.ExperimentID)
	case <-time.After(time.Second):
		t.Fatal("entry not delivered")
	}
}

func TestHub_PublishIsScopedToExperiment(t *testing.T) {
	h := NewHub()
	defer h.Close()

	_, other := h.Subscribe("exp-other")
	h.Publish(entry("exp-1", "not for you"))

	select {
	case e, ok := <-other:
		if ok {
			t.Fatalf("unexpected entry for other experiment: %q", e.Line)
		}
	default:
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	defer h.Close()

	_, ch := h.Subscribe("exp-1")

	// Overfill the buffer; Publish must return without blocking.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(entry("exp-1", "line"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on full subscriber")
	}

	// The buffer holds at most subscriberBuffer entries.
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			assert.LessOrEqual(t, count, subscriberBuffer)
			return
		}
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	defer h.Close()

	id, ch := h.Subscribe("exp-1")
	h.Unsubscribe("exp-1", id)

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after Unsubscribe")

	// Unsubscribing again is a no-op.
	h.Unsubscribe("exp-1", id)
}

func TestHub_CloseExperimentClosesAllSubscribers(t *testing.T) {
	h := NewHub()
	defer h.Close()

	_, ch1 := h.Subscribe("exp-1")
	_, ch2 := h.Subscribe("exp-1")

	h.CloseExperiment("exp-1")

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestHub_SubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	h := NewHub()
	h.Close()

	_, ch := h.Subscribe("exp-1")
	_, ok := <-ch
	assert.False(t, ok)

	// Publish after close must not panic.
	h.Publish(entry("exp-1", "dropped"))
}
