package journal

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agentgov/consolestream/internal/connection"
)

func testEntry(content string) Entry {
	return Entry{
		ID:         uuid.New(),
		ReceivedAt: time.Now(),
		Msg:        connection.Message{Type: connection.TypeMessage, Content: content},
	}
}

func TestBuffer_FIFO(t *testing.T) {
	b := newBuffer(10)

	for i := 0; i < 5; i++ {
		if !b.push(testEntry(fmt.Sprintf("msg-%d", i))) {
			t.Fatalf("push %d failed", i)
		}
	}
	if b.len() != 5 {
		t.Errorf("len = %d, want 5", b.len())
	}

	for i := 0; i < 5; i++ {
		e, ok := b.pop()
		if !ok {
			t.Fatalf("pop %d failed", i)
		}
		if want := fmt.Sprintf("msg-%d", i); e.Msg.Content != want {
			t.Errorf("pop %d = %q, want %q", i, e.Msg.Content, want)
		}
	}
}

func TestBuffer_Grows(t *testing.T) {
	b := newBuffer(4)
	initial := b.cap()

	for i := 0; i < 100; i++ {
		if !b.push(testEntry(fmt.Sprintf("msg-%d", i))) {
			t.Fatalf("push %d failed", i)
		}
	}

	if b.cap() <= initial {
		t.Errorf("cap = %d, expected growth beyond %d", b.cap(), initial)
	}
	if b.len() != 100 {
		t.Errorf("len = %d, want 100", b.len())
	}

	// Order survives the regrowth
	for i := 0; i < 100; i++ {
		e, ok := b.pop()
		if !ok {
			t.Fatalf("pop %d failed", i)
		}
		if want := fmt.Sprintf("msg-%d", i); e.Msg.Content != want {
			t.Fatalf("pop %d = %q, want %q", i, e.Msg.Content, want)
		}
	}
}

func TestBuffer_PopBlocks(t *testing.T) {
	b := newBuffer(4)

	got := make(chan Entry, 1)
	go func() {
		e, ok := b.pop()
		if ok {
			got <- e
		}
	}()

	// Give the consumer time to block
	time.Sleep(20 * time.Millisecond)
	b.push(testEntry("late"))

	select {
	case e := <-got:
		if e.Msg.Content != "late" {
			t.Errorf("popped %q, want %q", e.Msg.Content, "late")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pop never unblocked")
	}
}

func TestBuffer_CloseDrains(t *testing.T) {
	b := newBuffer(4)

	b.push(testEntry("a"))
	b.push(testEntry("b"))
	b.close()

	if b.push(testEntry("c")) {
		t.Error("push accepted after close")
	}

	// Remaining entries drain in order, then pop reports closed
	for _, want := range []string{"a", "b"} {
		e, ok := b.pop()
		if !ok {
			t.Fatalf("pop failed before drain complete")
		}
		if e.Msg.Content != want {
			t.Errorf("pop = %q, want %q", e.Msg.Content, want)
		}
	}
	if _, ok := b.pop(); ok {
		t.Error("pop succeeded on closed empty buffer")
	}
}

func TestBuffer_CloseUnblocksWaiters(t *testing.T) {
	b := newBuffer(4)

	done := make(chan struct{})
	go func() {
		_, ok := b.pop()
		if ok {
			t.Error("pop returned an entry from an empty closed buffer")
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	b.close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not unblock pop")
	}
}
