package keylock

import (
	"sync"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	kl := New()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kl.Lock("doc.txt")
			defer kl.Unlock("doc.txt")
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	kl := New()
	kl.Lock("a.txt")
	defer kl.Unlock("a.txt")

	done := make(chan struct{})
	go func() {
		kl.Lock("b.txt")
		kl.Unlock("b.txt")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestEntriesReleasedAfterUnlock(t *testing.T) {
	kl := New()
	kl.Lock("a.txt")
	kl.Unlock("a.txt")

	kl.mu.Lock()
	defer kl.mu.Unlock()
	if len(kl.locks) != 0 {
		t.Fatalf("lock table has %d entries after release, want 0", len(kl.locks))
	}
}

func TestUnlockUnheldPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unlocking an unheld key")
		}
	}()
	New().Unlock("nope")
}
