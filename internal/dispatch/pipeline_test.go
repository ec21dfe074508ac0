package dispatch

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/infodancer/attachment-milter/internal/message"
)

func attachments(names ...string) func(func(message.Attachment) bool) {
	return func(yield func(message.Attachment) bool) {
		for i, name := range names {
			if !yield(message.Attachment{Index: i + 1, Filename: name}) {
				return
			}
		}
	}
}

func TestPipeline_OrderAndFailures(t *testing.T) {
	d := DispatcherFunc(func(ctx context.Context, att message.Attachment) Outcome {
		if att.Filename == "bad.bin" {
			return Outcome{Attachment: att, Status: 500}
		}
		return Outcome{Attachment: att, Status: 201, Success: true}
	})

	for _, concurrency := range []int{0, 1, 4} {
		p := NewPipeline(d, concurrency)
		outs := p.Run(context.Background(), attachments("a.txt", "bad.bin", "c.txt"))

		var names []string
		for _, o := range outs {
			names = append(names, o.Attachment.Filename)
		}
		if want := []string{"a.txt", "bad.bin", "c.txt"}; !slices.Equal(names, want) {
			t.Errorf("concurrency %d: order = %v, want %v", concurrency, names, want)
		}
		if !outs[0].Success || outs[1].Success || !outs[2].Success {
			t.Errorf("concurrency %d: unexpected success flags %+v", concurrency, outs)
		}
	}
}

func TestPipeline_Empty(t *testing.T) {
	var calls atomic.Int32
	d := DispatcherFunc(func(ctx context.Context, att message.Attachment) Outcome {
		calls.Add(1)
		return Outcome{}
	})

	outs := NewPipeline(d, 2).Run(context.Background(), attachments())
	if len(outs) != 0 || calls.Load() != 0 {
		t.Errorf("got %d outcomes and %d calls, want none", len(outs), calls.Load())
	}
}

func TestPipeline_BoundsConcurrency(t *testing.T) {
	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	d := DispatcherFunc(func(ctx context.Context, att message.Attachment) Outcome {
		mu.Lock()
		current++
		peak = max(peak, current)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return Outcome{Attachment: att, Success: true}
	})

	outs := NewPipeline(d, 2).Run(context.Background(), attachments("1", "2", "3", "4", "5", "6"))
	if len(outs) != 6 {
		t.Fatalf("got %d outcomes, want 6", len(outs))
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestPipeline_SequentialDispatchesOnce(t *testing.T) {
	seen := make(map[int]int)
	d := DispatcherFunc(func(ctx context.Context, att message.Attachment) Outcome {
		seen[att.Index]++
		return Outcome{Attachment: att}
	})

	NewPipeline(d, 1).Run(context.Background(), attachments("x", "y", "z"))
	for i := 1; i <= 3; i++ {
		if seen[i] != 1 {
			t.Errorf("attachment %d dispatched %d times, want 1", i, seen[i])
		}
	}
}
