package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxAttempts  = 10
	publishTimeout      = 15 * time.Second
	maxRetryDelay       = 10 * time.Second
)

type store interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type broker interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type eventRows interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	BuryTx(tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, failedAt time.Time) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// topicSender publishes one message and waits for the server-assigned id.
type topicSender interface {
	Send(ctx context.Context, msg *gcppubsub.Message) (string, error)
}

type RelayParams struct {
	Outbox      config.OutboxConfig
	Logger      *logger.Logger
	Store       store
	Broker      broker
	Rows        eventRows
	DeadLetters deadLetters
	Resolver    eventResolver
	// Senders overrides the Pub/Sub publisher lookup.
	Senders func(topic string) topicSender
}

// Relay moves committed order events from outbox_events to Pub/Sub. Events
// of one order leave in commit order: after a retryable failure the rest of
// that order's rows in the batch wait for the next pass.
type Relay struct {
	logg        *logger.Logger
	store       store
	broker      broker
	rows        eventRows
	dlq         deadLetters
	resolver    eventResolver
	senders     func(topic string) topicSender
	topics      map[string]topicSender
	batchSize   int
	maxAttempts int
	poll        time.Duration
	now         func() time.Time
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.Store == nil:
		return nil, errors.New("database client is required")
	case params.Broker == nil:
		return nil, errors.New("pubsub client is required")
	case params.Rows == nil:
		return nil, errors.New("outbox repository is required")
	case params.DeadLetters == nil:
		return nil, errors.New("dlq repository is required")
	case params.Resolver == nil:
		return nil, errors.New("event registry is required")
	}

	r := &Relay{
		logg:        params.Logger,
		store:       params.Store,
		broker:      params.Broker,
		rows:        params.Rows,
		dlq:         params.DeadLetters,
		resolver:    params.Resolver,
		senders:     params.Senders,
		topics:      make(map[string]topicSender),
		batchSize:   params.Outbox.BatchSize,
		maxAttempts: params.Outbox.MaxAttempts,
		poll:        time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
		now:         time.Now,
	}
	if r.senders == nil {
		r.senders = r.pubsubSender
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.poll <= 0 {
		r.poll = defaultPollInterval
	}
	return r, nil
}

// Run drains the outbox until ctx is canceled. An empty batch waits one
// poll interval. Batch errors and broker failures back off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		r.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := r.broker.Ping(ctx); err != nil {
		r.logg.Error(ctx, "pubsub ping failed", err)
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = r.poll
	retry.MaxInterval = maxRetryDelay
	retry.Reset()

	for {
		report, err := r.drain(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait = retry.NextBackOff()
		case report.retried > 0:
			wait = retry.NextBackOff()
		case report.fetched == 0:
			retry.Reset()
			wait = r.poll
		default:
			retry.Reset()
		}
		if err := sleepCtx(ctx, wait); err != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return err
		}
	}
}

type batchReport struct {
	fetched      int
	published    int
	retried      int
	deadLettered int
	held         int
}

// drain handles one batch inside a single transaction so the row locks taken
// by the fetch cover every publish.
func (r *Relay) drain(ctx context.Context) (batchReport, error) {
	var report batchReport
	err := r.store.WithTx(ctx, func(tx *gorm.DB) error {
		report = batchReport{}
		rows, err := r.rows.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox rows: %w", err)
		}
		report.fetched = len(rows)

		stalled := make(map[uuid.UUID]struct{})
		for _, row := range rows {
			if _, ok := stalled[row.AggregateID]; ok {
				report.held++
				continue
			}
			d := r.deliver(ctx, row)
			if err := r.settle(ctx, tx, row, d); err != nil {
				return err
			}
			switch d.verdict {
			case verdictPublished:
				report.published++
			case verdictRetry:
				report.retried++
				stalled[row.AggregateID] = struct{}{}
			case verdictDeadLetter:
				report.deadLettered++
			}
		}
		return nil
	})
	if err == nil && report.fetched > 0 {
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"fetched":       report.fetched,
			"published":     report.published,
			"retried":       report.retried,
			"dead_lettered": report.deadLettered,
			"held":          report.held,
		}), "outbox batch relayed")
	}
	return report, err
}

type verdict int

const (
	verdictPublished verdict = iota
	verdictRetry
	verdictDeadLetter
)

type delivery struct {
	verdict verdict
	reason  enums.OutboxDLQErrorReason
	topic   string
	err     error
}

func (r *Relay) deliver(ctx context.Context, row models.OutboxEvent) delivery {
	resolved, err := r.resolver.Resolve(row)
	if err != nil {
		return delivery{verdict: verdictDeadLetter, reason: enums.OutboxDLQReasonNonRetryable, err: err}
	}
	topic := resolved.Descriptor.Topic
	sender := r.sender(topic)
	if sender == nil {
		return delivery{
			verdict: verdictDeadLetter,
			reason:  enums.OutboxDLQReasonNonRetryable,
			topic:   topic,
			err:     fmt.Errorf("no publisher for topic %s", topic),
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := sender.Send(sendCtx, orderMessage(row, resolved)); err != nil {
		var nonRetry registry.NonRetryableError
		switch {
		case errors.As(err, &nonRetry):
			return delivery{verdict: verdictDeadLetter, reason: enums.OutboxDLQReasonNonRetryable, topic: topic, err: err}
		case row.AttemptCount+1 >= r.maxAttempts:
			return delivery{
				verdict: verdictDeadLetter,
				reason:  enums.OutboxDLQReasonMaxAttempts,
				topic:   topic,
				err:     fmt.Errorf("gave up after %d attempts: %w", row.AttemptCount+1, err),
			}
		default:
			return delivery{verdict: verdictRetry, topic: topic, err: err}
		}
	}
	return delivery{verdict: verdictPublished, topic: topic}
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, d delivery) error {
	logCtx := r.logg.WithFields(r.logg.WithOrder(ctx, row.AggregateID), map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"topic":         d.topic,
		"attempt_count": row.AttemptCount,
	})

	switch d.verdict {
	case verdictPublished:
		if err := r.rows.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.logg.Info(logCtx, "order event published")
	case verdictRetry:
		r.logg.Warn(r.logg.WithField(logCtx, "error", d.err.Error()), "order event publish failed; holding later events for this order")
		if err := r.rows.MarkFailedTx(tx, row.ID, d.err); err != nil {
			return fmt.Errorf("mark failed %s: %w", row.ID, err)
		}
	case verdictDeadLetter:
		r.logg.Warn(r.logg.WithFields(logCtx, map[string]any{
			"error":        d.err.Error(),
			"error_reason": d.reason,
		}), "order event dead-lettered")
		if err := r.dlq.BuryTx(tx, row, d.reason, d.err, r.now()); err != nil {
			return fmt.Errorf("insert dlq %s: %w", row.ID, err)
		}
		if err := r.rows.MarkTerminalTx(tx, row.ID, d.err, r.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", row.ID, err)
		}
	}
	return nil
}

// orderMessage keys every event by order id and lifts the fields subscribers
// filter on into attributes.
func orderMessage(row models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	env := resolved.Envelope
	attrs := map[string]string{
		"event_id":       env.EventID,
		"event_type":     string(row.EventType),
		"order_id":       row.AggregateID.String(),
		"schema_version": strconv.Itoa(env.Version),
		"occurred_at":    env.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if env.Actor != nil && env.Actor.Role != "" {
		attrs["actor_role"] = env.Actor.Role
	}
	switch p := resolved.Payload.(type) {
	case *payloads.OrderCreatedEvent:
		attrs["payment_channel"] = string(p.PaymentChannel)
		attrs["total_price"] = p.TotalPrice
	case *payloads.OrderPaidEvent:
		attrs["payment_channel"] = string(p.PaymentChannel)
		attrs["amount"] = p.Amount
	case *payloads.OrderDeliveryStatusChangedEvent:
		attrs["delivery_from"] = string(p.From)
		attrs["delivery_to"] = string(p.To)
	}
	return &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: row.AggregateID.String(),
		Attributes:  attrs,
	}
}

func (r *Relay) sender(topic string) topicSender {
	if s, ok := r.topics[topic]; ok {
		return s
	}
	s := r.senders(topic)
	if s != nil {
		r.topics[topic] = s
	}
	return s
}

func (r *Relay) pubsubSender(topic string) topicSender {
	p := r.broker.Publisher(topic)
	if p == nil {
		return nil
	}
	p.EnableMessageOrdering = true
	return orderedTopic{pub: p}
}

type orderedTopic struct {
	pub *gcppubsub.Publisher
}

func (t orderedTopic) Send(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	id, err := t.pub.Publish(ctx, msg).Get(ctx)
	if err != nil && msg.OrderingKey != "" {
		// a failed ordered publish pauses the key until resumed
		t.pub.ResumePublish(msg.OrderingKey)
	}
	return id, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
