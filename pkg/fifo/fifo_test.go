package fifo

import (
	"sync"
	"testing"
)

// FUNCTIONAL VALIDATION TEST: Elements come out in append order
func TestQueue_InsertionOrder(t *testing.T) {
	q := New()
	for i := 0; i < 100; i++ {
		q.Append(i)
	}
	if q.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", q.Len())
	}

	for want := 0; want < 100; want++ {
		got, ok := q.Next()
		if !ok {
			t.Fatalf("queue drained early at %d", want)
		}
		if got.(int) != want {
			t.Fatalf("Next() = %v, want %d", got, want)
		}
	}
	if !q.Empty() {
		t.Error("queue should be empty")
	}
}

func TestQueue_InterleavedAppendAndNext(t *testing.T) {
	q := New()
	q.Append("a")
	q.Append("b")
	if got, _ := q.Next(); got != "a" {
		t.Fatalf("Next() = %v, want a", got)
	}
	q.Append("c")
	q.AppendPriority("d", 99)

	for _, want := range []string{"b", "c", "d"} {
		if got, _ := q.Next(); got != want {
			t.Fatalf("Next() = %v, want %s", got, want)
		}
	}
}

func TestQueue_Signal(t *testing.T) {
	q := New()
	q.Append(1)
	select {
	case <-q.Signal():
	default:
		t.Fatal("Signal should fire after Append")
	}
}

func TestQueue_ConcurrentAppend(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				q.Append([2]int{w, i})
			}
		}(w)
	}
	wg.Wait()

	if q.Len() != 4000 {
		t.Fatalf("Len() = %d, want 4000", q.Len())
	}

	// each producer's elements stay in its own order
	last := map[int]int{}
	for {
		element, ok := q.Next()
		if !ok {
			break
		}
		item := element.([2]int)
		if prev, seen := last[item[0]]; seen && item[1] != prev+1 {
			t.Fatalf("producer %d: %d after %d", item[0], item[1], prev)
		}
		last[item[0]] = item[1]
	}
}
