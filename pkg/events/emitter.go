// Package events handles event emission for sale lifecycle changes
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/lanternetwork/saletracker/pkg/kafka"
	"github.com/lanternetwork/saletracker/pkg/models"
	"github.com/lanternetwork/saletracker/pkg/tracing"
)

// SaleEvent is the payload published for sale lifecycle changes
type SaleEvent struct {
	EventType string       `json:"event_type"`
	SaleID    string       `json:"sale_id"`
	Sale      *models.Sale `json:"sale,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// RunEvent is the payload published when an ingest run finishes
type RunEvent struct {
	EventType    string                 `json:"event_type"`
	RunID        string                 `json:"run_id"`
	Source       models.SaleSource      `json:"source"`
	Status       models.IngestRunStatus `json:"status"`
	FetchedCount int                    `json:"fetched_count"`
	NewCount     int                    `json:"new_count"`
	UpdatedCount int                    `json:"updated_count"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Emitter publishes sale and run events. A nil producer disables emission,
// so callers never need to special-case deployments without Kafka.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitSaleCreated emits a sale.created event
func (e *Emitter) EmitSaleCreated(ctx context.Context, sale *models.Sale) error {
	return e.emitSale(ctx, "sale.created", sale)
}

// EmitSaleUpdated emits a sale.updated event
func (e *Emitter) EmitSaleUpdated(ctx context.Context, sale *models.Sale) error {
	return e.emitSale(ctx, "sale.updated", sale)
}

func (e *Emitter) emitSale(ctx context.Context, eventType string, sale *models.Sale) error {
	if e.producer == nil {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.emitSale")
	defer span.End()

	event := &SaleEvent{
		EventType: eventType,
		SaleID:    sale.ID,
		Sale:      sale,
		Timestamp: time.Now().UTC(),
	}

	if err := e.producer.Publish(ctx, sale.ID, eventType, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
		return err
	}
	return nil
}

// EmitRunFinished emits a run.finished event with the run's final counters
func (e *Emitter) EmitRunFinished(ctx context.Context, run *models.IngestRun) error {
	if e.producer == nil {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRunFinished")
	defer span.End()

	event := &RunEvent{
		EventType:    "run.finished",
		RunID:        run.ID,
		Source:       run.Source,
		Status:       run.Status,
		FetchedCount: run.FetchedCount,
		NewCount:     run.NewCount,
		UpdatedCount: run.UpdatedCount,
		Timestamp:    time.Now().UTC(),
	}

	if err := e.producer.Publish(ctx, run.ID, event.EventType, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit run.finished event")
		return err
	}
	return nil
}
