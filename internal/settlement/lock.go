package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const (
	defaultLockTTL = 30 * time.Second
	lockScope      = "settlement"
)

// lockStore is the subset of the redis client the per-order lock needs.
type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
	LockKey(scope, id string) string
}

// orderLocker serializes settlement of a single order across API replicas.
type orderLocker struct {
	store lockStore
	ttl   time.Duration
}

func newOrderLocker(store lockStore, ttl time.Duration) (*orderLocker, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &orderLocker{store: store, ttl: ttl}, nil
}

// Acquire takes the lock for orderID or fails with CONFLICT when another
// settlement holds it. The returned release only deletes the key while this
// caller still owns it.
func (l *orderLocker) Acquire(ctx context.Context, orderID uuid.UUID) (func(context.Context) error, error) {
	key := l.store.LockKey(lockScope, orderID.String())
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("setnx %s: %w", key, err), "acquire settlement lock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "settlement already in progress for order")
	}
	return func(ctx context.Context) error {
		if _, err := l.store.DelIfValue(ctx, key, owner); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}
