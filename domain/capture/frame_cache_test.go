package capture

import (
	"testing"
	"time"
)

func TestSharedFrameCacheRoundTripIdempotence(t *testing.T) {
	c := NewSharedFrameCache(time.Second)
	id := c.Cache(&Frame{Pix: make([]byte, 3), Width: 1, Height: 1})

	v := c.Get("consumer-a", id)
	if v == nil {
		t.Fatal("expected a cached frame view")
	}
	c.Release("consumer-a")
	c.ForceCleanup()

	st := c.Stats()
	if st.CurrentConsumers != 0 || st.CurrentFrameID != 0 {
		t.Fatalf("expected empty cache after release+force_cleanup, got %+v", st)
	}
	if v2 := c.Get("consumer-b", 0); v2 != nil {
		t.Fatal("expected no frame available after force_cleanup")
	}
}

func TestSharedFrameCacheConsumerBookkeeping(t *testing.T) {
	c := NewSharedFrameCache(time.Second)
	id := c.Cache(&Frame{Pix: make([]byte, 3), Width: 1, Height: 1})

	c.Get("a", id)
	c.Get("b", id)
	if st := c.Stats(); st.CurrentConsumers != 2 {
		t.Fatalf("expected 2 registered consumers, got %d", st.CurrentConsumers)
	}

	c.Release("a")
	if st := c.Stats(); st.CurrentConsumers != 1 {
		t.Fatalf("expected 1 registered consumer after one release, got %d", st.CurrentConsumers)
	}

	// entry must survive while consumer "b" still holds it
	if v := c.Get("b", id); v == nil {
		t.Fatal("expected entry to remain valid while a consumer still holds it")
	}

	c.Release("b")
	if st := c.Stats(); st.CurrentConsumers != 0 {
		t.Fatalf("expected auto-cleanup to drop the entry once consumers empties, got %+v", st)
	}
}

func TestSharedFrameCacheMaxAgeInvalidation(t *testing.T) {
	c := NewSharedFrameCache(5 * time.Millisecond)
	id := c.Cache(&Frame{Pix: make([]byte, 3), Width: 1, Height: 1})

	time.Sleep(10 * time.Millisecond)

	if v := c.Get("late-consumer", id); v != nil {
		t.Fatal("expected entry older than max_cache_age to be rejected")
	}
	if st := c.Stats(); st.Misses == 0 {
		t.Fatal("expected a miss to be recorded for the stale read")
	}
}

func TestSharedFrameCacheFrameIDMismatchMisses(t *testing.T) {
	c := NewSharedFrameCache(time.Second)
	id := c.Cache(&Frame{Pix: make([]byte, 3), Width: 1, Height: 1})

	if v := c.Get("consumer", id+1); v != nil {
		t.Fatal("expected a mismatched frame_id to miss")
	}
}

func TestSharedFrameCacheReplaceResetsConsumers(t *testing.T) {
	c := NewSharedFrameCache(time.Second)
	id1 := c.Cache(&Frame{Pix: make([]byte, 3), Width: 1, Height: 1})
	c.Get("a", id1)

	c.Cache(&Frame{Pix: make([]byte, 3), Width: 1, Height: 1})
	if st := c.Stats(); st.CurrentConsumers != 0 {
		t.Fatalf("expected consumer set reset on replacement, got %d", st.CurrentConsumers)
	}
}

func TestSharedFrameCacheMonotonicFrameIDs(t *testing.T) {
	c := NewSharedFrameCache(time.Second)
	id1 := c.Cache(&Frame{Pix: make([]byte, 3), Width: 1, Height: 1})
	id2 := c.Cache(&Frame{Pix: make([]byte, 3), Width: 1, Height: 1})
	if id2 <= id1 {
		t.Fatalf("expected monotonically increasing frame ids, got %d then %d", id1, id2)
	}
}
