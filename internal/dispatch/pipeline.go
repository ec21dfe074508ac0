package dispatch

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"

	"github.com/infodancer/attachment-milter/internal/message"
)

// Pipeline dispatches every attachment of a message with bounded
// concurrency.
type Pipeline struct {
	dispatcher  Dispatcher
	concurrency int
}

// NewPipeline wraps d. A concurrency below one is treated as one, which
// dispatches attachments strictly in sequence.
func NewPipeline(d Dispatcher, concurrency int) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{dispatcher: d, concurrency: concurrency}
}

// Run dispatches each attachment yielded by atts exactly once and returns
// the outcomes in the order the attachments were yielded. A failed dispatch
// never prevents the remaining ones.
func (p *Pipeline) Run(ctx context.Context, atts iter.Seq[message.Attachment]) []Outcome {
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	var slots []*Outcome
	for att := range atts {
		slot := new(Outcome)
		slots = append(slots, slot)
		g.Go(func() error {
			*slot = p.dispatcher.Dispatch(ctx, att)
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make([]Outcome, len(slots))
	for i, slot := range slots {
		outcomes[i] = *slot
	}
	return outcomes
}
