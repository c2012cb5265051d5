package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"equity_go/pkg/clock"
)

func TestTTL_HitAndExpiry(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	c := NewTTL[int](2*time.Second, clk)

	c.Set("MRF.NS", 42)

	if v, ok := c.Get("MRF.NS"); !ok || v != 42 {
		t.Fatalf("Get = %d, %v; want 42, true", v, ok)
	}

	clk.Advance(1999 * time.Millisecond)
	if _, ok := c.Get("MRF.NS"); !ok {
		t.Error("entry should still be live just before expiry")
	}

	clk.Advance(time.Millisecond)
	if _, ok := c.Get("MRF.NS"); ok {
		t.Error("entry should expire exactly at the TTL boundary")
	}
}

func TestTTL_MissingKey(t *testing.T) {
	c := NewTTL[string](time.Minute, nil)
	if v, ok := c.Get("nope"); ok || v != "" {
		t.Errorf("Get on empty cache = %q, %v", v, ok)
	}
}

func TestTTL_LastWriteWins(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	c := NewTTL[int](time.Minute, clk)

	c.Set("k", 1)
	c.Set("k", 2)
	if v, _ := c.Get("k"); v != 2 {
		t.Errorf("Expected last write 2, got %d", v)
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("deleted key should miss")
	}

	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Expected empty after Clear, got %d", c.Len())
	}
}

type pair struct{ a, b int }

// Readers racing with writers must only ever observe whole entries.
func TestTTL_ConcurrentWritesAreNeverTorn(t *testing.T) {
	c := NewTTL[pair](time.Minute, nil)
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				v := w*1000 + i
				c.Set("key"+strconv.Itoa(i%4), pair{v, v})
			}
		}(w)
	}
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if p, ok := c.Get("key" + strconv.Itoa(i%4)); ok && p.a != p.b {
					t.Errorf("torn read: %+v", p)
					return
				}
			}
		}()
	}
	wg.Wait()
}
