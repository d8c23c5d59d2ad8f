package model

import "time"

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// Delivery methods.
const (
	DeliveryHome        = "home_delivery"
	DeliveryStorePickup = "store_pickup"
)

// Order is one vendor's share of a checkout.
type Order struct {
	ID              int64
	OrderNumber     string
	CheckoutGroup   string
	CheckoutKey     *string // only on the primary order
	MemberID        int64
	VendorID        *int64
	AddressID       int64
	RecipientName   string
	Phone           string
	City            string
	District        string
	AddressDetail   string
	DeliveryMethod  string
	PaymentMethod   string
	Subtotal        int64
	ShippingFee     int64
	DiscountAmount  int64
	PointsDeduction int64
	PaymentFee      int64
	TotalAmount     int64
	CouponID        *int64 // only on the primary order
	UsedPoints      int64
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	Lines           []OrderLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderLine is a purchased line copied from the cart.
type OrderLine struct {
	ID        int64
	OrderID   int64
	ProductID int64
	VariantID int64
	UnitPrice int64
	Quantity  int
	Subtotal  int64
}

// CheckoutRequest is the DTO for POST /api/checkout/orders.
type CheckoutRequest struct {
	MemberID       int64  `json:"-"`
	RecipientName  string `json:"recipient_name" validate:"max=255"`
	Phone          string `json:"phone" validate:"max=64"`
	City           string `json:"city" validate:"max=64"`
	District       string `json:"district" validate:"max=64"`
	AddressDetail  string `json:"address_detail" validate:"max=512"`
	AddressID      *int64 `json:"address_id" validate:"omitempty,gt=0"`
	DeliveryMethod string `json:"delivery_method" validate:"required,oneof=home_delivery store_pickup"`
	PaymentMethod  string `json:"payment_method" validate:"required,oneof=credit_card atm cod line_pay"`
	CouponCode     string `json:"coupon_code" validate:"max=255"`
	UsedPoints     int64  `json:"used_points" validate:"gte=0"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=255"`
}

// OrderResponse references the primary order of a checkout.
type OrderResponse struct {
	OrderID      int64    `json:"order_id"`
	OrderNumber  string   `json:"order_number"`
	OrderNumbers []string `json:"order_numbers"`
	OrderCount   int      `json:"order_count"`
	TotalAmount  int64    `json:"total_amount"`
	UsedPoints   int64    `json:"used_points"`
	Message      string   `json:"message"`
	Replayed     bool     `json:"replayed"`
}

// CreateOrderResult is the envelope returned by CreateOrder.
type CreateOrderResult struct {
	Success bool              `json:"success"`
	Order   *OrderResponse    `json:"order,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// CheckoutSummary is the authoritative price breakdown.
type CheckoutSummary struct {
	ItemCount          int    `json:"item_count"`
	Subtotal           int64  `json:"subtotal"`
	ShippingFee        int64  `json:"shipping_fee"`
	PaymentMethod      string `json:"payment_method,omitempty"`
	PaymentFee         int64  `json:"payment_fee"`
	CouponID           *int64 `json:"coupon_id,omitempty"`
	CouponTitle        string `json:"coupon_title,omitempty"`
	CouponDiscount     int64  `json:"coupon_discount"`
	CouponMessage      string `json:"coupon_message,omitempty"`
	AvailablePoints    int64  `json:"available_points"`
	MaxPointsDeduction int64  `json:"max_points_deduction"`
	PointsDeduction    int64  `json:"points_deduction"`
	Total              int64  `json:"total"`
}

// CheckoutValidation is the result of ValidateCheckout.
type CheckoutValidation struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationIssue `json:"errors"`
	Summary *CheckoutSummary  `json:"summary,omitempty"`
}
