package async

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessorHandlesScheduledItems(t *testing.T) {
	var mu sync.Mutex
	var handled []int
	done := make(chan struct{}, 10)

	p := New("test", func(item int) {
		mu.Lock()
		handled = append(handled, item)
		mu.Unlock()
		done <- struct{}{}
	}, 1)
	p.Start()
	defer p.Stop()

	p.Schedule(1)
	p.Schedule(2)
	p.Schedule(3)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for items")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	// a single worker preserves FIFO order
	assert.Equal(t, []int{1, 2, 3}, handled)
}

func TestProcessorRecoversFromPanic(t *testing.T) {
	done := make(chan int, 2)
	p := New("test", func(item int) {
		if item == 1 {
			panic("boom")
		}
		done <- item
	}, 1)
	p.Start()
	defer p.Stop()

	p.Schedule(1)
	p.Schedule(2)

	select {
	case item := <-done:
		assert.Equal(t, 2, item)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestProcessorDropsQueuedItemsOnStop(t *testing.T) {
	var mu sync.Mutex
	handled := 0

	p := New("test", func(item int) {
		mu.Lock()
		handled++
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
	}, 1)

	// items scheduled before Start stay queued
	p.Schedule(1)
	p.Schedule(2)
	p.Stop()

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, handled)
}

func TestProcessorMultipleWorkers(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(10)
	p := New("test", func(item int) {
		wg.Done()
	}, 3)
	p.Start()
	defer p.Stop()

	for i := 0; i < 10; i++ {
		p.Schedule(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all items were handled")
	}
}
