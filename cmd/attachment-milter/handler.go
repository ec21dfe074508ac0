package main

import (
	"context"

	"github.com/emersion/go-milter"

	"github.com/infodancer/attachment-milter/internal/dispatch"
	"github.com/infodancer/attachment-milter/internal/eventlog"
	"github.com/infodancer/attachment-milter/internal/filter"
	"github.com/infodancer/attachment-milter/internal/logging"
	"github.com/infodancer/attachment-milter/internal/metrics"
)

// milterHandler builds one filter session per accepted connection.
type milterHandler struct {
	sink     eventlog.Sink
	pipeline *dispatch.Pipeline
	metrics  metrics.Collector
}

func (h *milterHandler) newMilter(ctx context.Context, sessionID string) milter.Milter {
	logger := logging.FromContext(ctx)
	logger.Debug("milter session started")

	return filter.New(filter.Config{
		SessionID: sessionID,
		Sink:      h.sink,
		Pipeline:  h.pipeline,
		Context:   ctx,
		Logger:    logger,
		Metrics:   h.metrics,
	})
}
