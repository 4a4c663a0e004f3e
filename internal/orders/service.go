package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

const placedComment = "Order placed"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// InventoryAdjuster moves stock for the lines of a new order.
type InventoryAdjuster interface {
	Apply(ctx context.Context, tx *gorm.DB, adjustments []inventory.Adjustment) error
}

// Service defines the customer and staff order operations.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	ListMine(ctx context.Context, actor Actor) ([]models.Order, error)
	List(ctx context.Context, params pagination.Params) (*OrderList, error)
}

// Actor is the authenticated caller.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.UserRoleAdmin
}

// OutboxActor converts the caller into the reference stored on events.
func (a Actor) OutboxActor() *outbox.ActorRef {
	if a.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: a.UserID, Role: string(a.Role)}
}

// LineItemInput is one cart line as submitted at checkout.
type LineItemInput struct {
	ProductID uuid.UUID
	Name      string
	Qty       int
	Price     decimal.Decimal
	Image     string
}

// CreateOrderInput carries a checkout submission.
type CreateOrderInput struct {
	Actor           Actor
	Items           []LineItemInput
	ShippingAddress types.ShippingAddress
	PaymentChannel  enums.PaymentChannel
	ItemsPrice      decimal.Decimal
	TaxPrice        decimal.Decimal
	ShippingPrice   decimal.Decimal
	TotalPrice      decimal.Decimal
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outboxPublisher
	inventory InventoryAdjuster
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, inventory InventoryAdjuster) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory adjuster required")
	}
	return &service{
		repo:      repo,
		tx:        tx,
		outbox:    outbox,
		inventory: inventory,
	}, nil
}

// Create persists the order with its first status entry, adjusts stock for
// every line and queues order_created. Any failure rolls back all of it.
func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	order := buildOrder(input)
	adjustments := make([]inventory.Adjustment, 0, len(input.Items))
	for _, item := range input.Items {
		adjustments = append(adjustments, inventory.Adjustment{ProductID: item.ProductID, Qty: item.Qty})
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := s.inventory.Apply(ctx, tx, adjustments); err != nil {
			return err
		}
		placedBy := input.Actor.UserID
		if err := repo.AppendHistory(ctx, &models.OrderStatusEntry{
			OrderID: order.ID,
			Status:  order.DeliveryStatus,
			Comment: placedComment,
			ActorID: &placedBy,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record initial status")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         input.Actor.OutboxActor(),
			Data: payloads.OrderCreatedEvent{
				OrderID:        order.ID,
				UserID:         order.UserID,
				PaymentChannel: order.PaymentChannel,
				TotalPrice:     order.TotalPrice.StringFixed(2),
				ItemCount:      len(order.Items),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, order.ID)
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := CheckAccess(order, actor); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) ListMine(ctx context.Context, actor Actor) ([]models.Order, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	orders, err := s.repo.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return orders, nil
}

func (s *service) List(ctx context.Context, params pagination.Params) (*OrderList, error) {
	if _, err := pagination.Decode(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	list, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// CheckAccess allows the order owner and admins.
func CheckAccess(order *models.Order, actor Actor) error {
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if actor.IsAdmin() || order.UserID == actor.UserID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
}

func validateCreate(input CreateOrderInput) error {
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	if !input.ShippingAddress.IsComplete() {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping address incomplete")
	}
	if !input.PaymentChannel.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment channel")
	}

	itemsTotal := decimal.Zero
	for i, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: product id required", i))
		}
		if item.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
		if item.Price.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: price must not be negative", i))
		}
		itemsTotal = itemsTotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Qty))))
	}

	for name, amount := range map[string]decimal.Decimal{
		"itemsPrice":    input.ItemsPrice,
		"taxPrice":      input.TaxPrice,
		"shippingPrice": input.ShippingPrice,
		"totalPrice":    input.TotalPrice,
	} {
		if amount.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, name+" must not be negative")
		}
	}

	if !itemsTotal.Equal(input.ItemsPrice) {
		return pkgerrors.New(pkgerrors.CodeValidation, "items price does not match line items").
			WithDetails(map[string]string{"expected": itemsTotal.StringFixed(2), "got": input.ItemsPrice.StringFixed(2)})
	}
	total := input.ItemsPrice.Add(input.TaxPrice).Add(input.ShippingPrice)
	if !total.Equal(input.TotalPrice) {
		return pkgerrors.New(pkgerrors.CodeValidation, "total price does not match items, tax and shipping").
			WithDetails(map[string]string{"expected": total.StringFixed(2), "got": input.TotalPrice.StringFixed(2)})
	}
	return nil
}

func buildOrder(input CreateOrderInput) *models.Order {
	order := &models.Order{
		ID:              uuid.New(),
		UserID:          input.Actor.UserID,
		ShippingAddress: input.ShippingAddress,
		PaymentChannel:  input.PaymentChannel,
		ItemsPrice:      input.ItemsPrice,
		TaxPrice:        input.TaxPrice,
		ShippingPrice:   input.ShippingPrice,
		TotalPrice:      input.TotalPrice,
		DeliveryStatus:  enums.DeliveryStatusNotProcessed,
	}
	order.Items = make([]models.OrderLineItem, 0, len(input.Items))
	for _, item := range input.Items {
		order.Items = append(order.Items, models.OrderLineItem{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Name:      item.Name,
			Qty:       item.Qty,
			Price:     item.Price,
			Image:     item.Image,
		})
	}
	return order
}
