package cron

import (
	"context"
	"fmt"
)

type deliveryBackfiller interface {
	Backfill(ctx context.Context, batchSize int) (int, error)
}

type deliveryBackfillJob struct {
	backfiller deliveryBackfiller
	batchSize  int
}

// NewDeliveryBackfillJob gives orders that predate delivery tracking a status
// and a first history entry. Orders that already have history are untouched.
func NewDeliveryBackfillJob(backfiller deliveryBackfiller, batchSize int) (Job, error) {
	if backfiller == nil {
		return nil, fmt.Errorf("delivery service required")
	}
	return &deliveryBackfillJob{backfiller: backfiller, batchSize: batchSize}, nil
}

func (j *deliveryBackfillJob) Name() string { return "delivery-backfill" }

func (j *deliveryBackfillJob) Run(ctx context.Context) (int64, error) {
	n, err := j.backfiller.Backfill(ctx, j.batchSize)
	if err != nil {
		return int64(n), fmt.Errorf("delivery backfill: %w", err)
	}
	return int64(n), nil
}
