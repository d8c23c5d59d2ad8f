package model

import "time"

// Cart is a member's in-progress cart.
type Cart struct {
	ID        int64
	MemberID  int64
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subtotal sums the lines at their add-time prices.
func (c *Cart) Subtotal() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.Subtotal()
	}
	return total
}

// ItemCount sums line quantities.
func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// CartLine is one (product, variant) entry. The catalog fields are read at load time.
type CartLine struct {
	ID        int64
	CartID    int64
	ProductID int64
	VariantID int64
	Quantity  int
	UnitPrice int64
	CreatedAt time.Time

	ProductName   string
	VariantName   string
	VendorID      *int64
	ProductActive bool
	VariantExists bool
	CurrentPrice  int64
	Stock         int
}

// Subtotal is unit price × quantity.
func (l CartLine) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// VendorKey returns the vendor id, or 0 for platform-sold lines.
func (l CartLine) VendorKey() int64 {
	if l.VendorID == nil {
		return 0
	}
	return *l.VendorID
}

// AppliedCoupon is the staged coupon selection for a member's cart.
type AppliedCoupon struct {
	MemberID       int64
	CouponID       int64
	RedemptionID   int64
	Code           string
	Title          string
	DiscountAmount int64
	AppliedAt      time.Time
	ExpiresAt      time.Time
}

// CartView is the API response for GET /api/cart.
type CartView struct {
	MemberID      int64              `json:"member_id"`
	Lines         []CartLineView     `json:"lines"`
	ItemCount     int                `json:"item_count"`
	Subtotal      int64              `json:"subtotal"`
	ShippingFee   int64              `json:"shipping_fee"`
	Discount      int64              `json:"discount"`
	Total         int64              `json:"total"`
	AppliedCoupon *AppliedCouponView `json:"applied_coupon,omitempty"`
}

// CartLineView is one line of a CartView.
type CartLineView struct {
	LineID      int64     `json:"line_id"`
	ProductID   int64     `json:"product_id"`
	VariantID   int64     `json:"variant_id"`
	ProductName string    `json:"product_name"`
	VariantName string    `json:"variant_name"`
	VendorID    *int64    `json:"vendor_id"`
	UnitPrice   int64     `json:"unit_price"`
	Quantity    int       `json:"quantity"`
	Subtotal    int64     `json:"subtotal"`
	AddedAt     time.Time `json:"added_at"`
}

// AppliedCouponView exposes the staged coupon.
type AppliedCouponView struct {
	CouponID       int64     `json:"coupon_id"`
	Code           string    `json:"code"`
	Title          string    `json:"title"`
	DiscountAmount int64     `json:"discount_amount"`
	AppliedAt      time.Time `json:"applied_at"`
}

// AddItemRequest is the DTO for POST /api/cart/items.
type AddItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	VariantID int64 `json:"variant_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gte=1,lte=999"`
}

// UpdateQuantityRequest is the DTO for PATCH /api/cart/items/:lineId.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"required,gte=1,lte=999"`
}

// RemoveItemsRequest is the DTO for batch line removal.
type RemoveItemsRequest struct {
	LineIDs []int64 `json:"line_ids" validate:"required,min=1,dive,gt=0"`
}

// ApplyCouponRequest is the DTO for POST /api/cart/coupon.
type ApplyCouponRequest struct {
	Code string `json:"code" validate:"required,notblank,max=255"`
}

// ApplyCouponResult reports a coupon application. A rejected coupon is Success=false, not an error.
type ApplyCouponResult struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Cart    *CartView `json:"cart,omitempty"`
}

// Validation issue codes.
const (
	IssueCartEmpty         = "cart_empty"
	IssueProductInactive   = "product_inactive"
	IssueVariantMissing    = "variant_missing"
	IssueInsufficientStock = "insufficient_stock"
	IssuePriceChanged      = "price_changed"
	IssueCoupon            = "coupon_invalid"
	IssuePoints            = "points_invalid"
)

// ValidationIssue is one user-correctable problem, usually tied to a cart line.
type ValidationIssue struct {
	LineID    int64  `json:"line_id,omitempty"`
	ProductID int64  `json:"product_id,omitempty"`
	VariantID int64  `json:"variant_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// CartValidation is the result of re-checking cart lines against the catalog.
type CartValidation struct {
	IsValid bool              `json:"is_valid"`
	Issues  []ValidationIssue `json:"issues"`
}
