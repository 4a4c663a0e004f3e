package orders

import (
	"time"

	"github.com/shopspring/decimal"

	internalorders "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type orderItemRequest struct {
	ProductID string          `json:"product" validate:"required,uuid"`
	Name      string          `json:"name" validate:"required,max=200"`
	Qty       int             `json:"qty" validate:"required,min=1"`
	Price     decimal.Decimal `json:"price" validate:"money"`
	Image     string          `json:"image" validate:"max=500"`
}

type createOrderRequest struct {
	OrderItems      []orderItemRequest    `json:"orderItems" validate:"required,min=1,dive"`
	ShippingAddress types.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                `json:"paymentMethod" validate:"required,payment_channel"`
	ItemsPrice      decimal.Decimal       `json:"itemsPrice" validate:"money"`
	TaxPrice        decimal.Decimal       `json:"taxPrice" validate:"money"`
	ShippingPrice   decimal.Decimal       `json:"shippingPrice" validate:"money"`
	TotalPrice      decimal.Decimal       `json:"totalPrice" validate:"money"`
}

type payerRequest struct {
	EmailAddress string `json:"email_address" validate:"omitempty,email"`
}

// payRequest is the wallet provider's capture result as relayed by the client.
type payRequest struct {
	ID         string       `json:"id" validate:"required,max=128"`
	Status     string       `json:"status" validate:"max=64"`
	UpdateTime string       `json:"update_time" validate:"max=64"`
	Payer      payerRequest `json:"payer"`
}

type deliveryStatusRequest struct {
	DeliveryStatus string `json:"deliveryStatus" validate:"required,delivery_status"`
	Comment        string `json:"comment" validate:"max=500"`
}

type gatewayPaymentResponse struct {
	PaymentURL string `json:"paymentUrl"`
}

type OrderItemResponse struct {
	Product string `json:"product"`
	Name    string `json:"name"`
	Qty     int    `json:"qty"`
	Price   string `json:"price"`
	Image   string `json:"image"`
}

type StatusEntryResponse struct {
	Status    enums.DeliveryStatus `json:"status"`
	Comment   string               `json:"comment"`
	UpdatedBy *string              `json:"updatedBy,omitempty"`
	Date      time.Time            `json:"date"`
}

// OrderResponse is the public shape of an order.
type OrderResponse struct {
	ID              string                `json:"id"`
	User            string                `json:"user"`
	OrderItems      []OrderItemResponse   `json:"orderItems"`
	ShippingAddress types.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   enums.PaymentChannel  `json:"paymentMethod"`
	PaymentResult   *types.PaymentResult  `json:"paymentResult,omitempty"`
	ItemsPrice      string                `json:"itemsPrice"`
	TaxPrice        string                `json:"taxPrice"`
	ShippingPrice   string                `json:"shippingPrice"`
	TotalPrice      string                `json:"totalPrice"`
	IsPaid          bool                  `json:"isPaid"`
	PaidAt          *time.Time            `json:"paidAt,omitempty"`
	IsDelivered     bool                  `json:"isDelivered"`
	DeliveredAt     *time.Time            `json:"deliveredAt,omitempty"`
	DeliveryStatus  enums.DeliveryStatus  `json:"deliveryStatus"`
	StatusHistory   []StatusEntryResponse `json:"statusHistory"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

type OrderListResponse struct {
	Orders     []OrderResponse `json:"orders"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

func newOrderResponse(order *models.Order) OrderResponse {
	out := OrderResponse{
		ID:              order.ID.String(),
		User:            order.UserID.String(),
		OrderItems:      make([]OrderItemResponse, 0, len(order.Items)),
		ShippingAddress: order.ShippingAddress,
		PaymentMethod:   order.PaymentChannel,
		PaymentResult:   order.PaymentResult,
		ItemsPrice:      order.ItemsPrice.StringFixed(2),
		TaxPrice:        order.TaxPrice.StringFixed(2),
		ShippingPrice:   order.ShippingPrice.StringFixed(2),
		TotalPrice:      order.TotalPrice.StringFixed(2),
		IsPaid:          order.IsPaid,
		PaidAt:          order.PaidAt,
		IsDelivered:     order.IsDelivered,
		DeliveredAt:     order.DeliveredAt,
		DeliveryStatus:  order.DeliveryStatus,
		StatusHistory:   make([]StatusEntryResponse, 0, len(order.StatusHistory)),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	for _, item := range order.Items {
		out.OrderItems = append(out.OrderItems, OrderItemResponse{
			Product: item.ProductID.String(),
			Name:    item.Name,
			Qty:     item.Qty,
			Price:   item.Price.StringFixed(2),
			Image:   item.Image,
		})
	}
	for _, entry := range order.StatusHistory {
		resp := StatusEntryResponse{
			Status:  entry.Status,
			Comment: entry.Comment,
			Date:    entry.CreatedAt,
		}
		if entry.ActorID != nil {
			actor := entry.ActorID.String()
			resp.UpdatedBy = &actor
		}
		out.StatusHistory = append(out.StatusHistory, resp)
	}
	return out
}

func newOrderListResponse(orders []models.Order, nextCursor string) OrderListResponse {
	out := OrderListResponse{
		Orders:     make([]OrderResponse, 0, len(orders)),
		NextCursor: nextCursor,
	}
	for i := range orders {
		out.Orders = append(out.Orders, newOrderResponse(&orders[i]))
	}
	return out
}

func (req createOrderRequest) toInput(actor internalorders.Actor, channel enums.PaymentChannel, items []internalorders.LineItemInput) internalorders.CreateOrderInput {
	return internalorders.CreateOrderInput{
		Actor:           actor,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentChannel:  channel,
		ItemsPrice:      req.ItemsPrice,
		TaxPrice:        req.TaxPrice,
		ShippingPrice:   req.ShippingPrice,
		TotalPrice:      req.TotalPrice,
	}
}
