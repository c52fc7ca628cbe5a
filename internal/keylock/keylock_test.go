package keylock

import (
	"sync"
	"testing"
)

func TestKeyLock_serializesSameKey(t *testing.T) {
	kl := New()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kl.Lock("a")
			counter++
			kl.Unlock("a")
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}

func TestKeyLock_independentKeys(t *testing.T) {
	kl := New()
	kl.Lock("a")
	done := make(chan struct{})
	go func() {
		kl.Lock("b") // must not block on "a"
		kl.Unlock("b")
		close(done)
	}()
	<-done
	kl.Unlock("a")
}
