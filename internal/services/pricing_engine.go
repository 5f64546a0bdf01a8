package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loomline/api/internal/domain"
)

// ErrPricingInvalidInput signals bad quote input such as an empty cart or a
// negative unit price.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// DeliverySpeed selects a shipping fee tier at checkout.
type DeliverySpeed string

const (
	DeliveryStandard DeliverySpeed = "standard"
	DeliveryExpress  DeliverySpeed = "express"
)

const (
	standardShippingFee = 0
	expressShippingFee  = 199
)

// PricingEngine turns a cart into the immutable pricing breakdown stored on
// an order. Amounts are whole rupees.
type PricingEngine struct {
	shippingFees map[DeliverySpeed]int64
	logger       func(context.Context, string, map[string]any)
}

// PricingEngineDeps carries optional overrides for the engine.
type PricingEngineDeps struct {
	// ShippingFees replaces the built-in tier table when non-empty.
	ShippingFees map[DeliverySpeed]int64
	Logger       func(context.Context, string, map[string]any)
}

// NewPricingEngine constructs a PricingEngine.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	fees := deps.ShippingFees
	if len(fees) == 0 {
		fees = map[DeliverySpeed]int64{
			DeliveryStandard: standardShippingFee,
			DeliveryExpress:  expressShippingFee,
		}
	}
	for speed, fee := range fees {
		if fee < 0 {
			return nil, fmt.Errorf("pricing engine: negative shipping fee for tier %q", speed)
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{
		shippingFees: fees,
		logger:       logger,
	}, nil
}

// Quote prices the cart for the chosen delivery tier. Tax is not levied
// separately (prices are inclusive) and promo codes are recorded on the
// breakdown without reducing it; a zero-discount quote still satisfies the
// order total invariant.
func (e *PricingEngine) Quote(ctx context.Context, items []domain.CartItem, speed DeliverySpeed, promoCode string) (domain.Pricing, error) {
	if e == nil {
		return domain.Pricing{}, errors.New("pricing engine: engine is nil")
	}
	if len(items) == 0 {
		return domain.Pricing{}, fmt.Errorf("%w: cart is empty", ErrPricingInvalidInput)
	}

	var subtotal int64
	for i, item := range items {
		if item.Quantity < 1 {
			return domain.Pricing{}, fmt.Errorf("%w: item %d has non-positive quantity", ErrPricingInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return domain.Pricing{}, fmt.Errorf("%w: item %d has negative unit price", ErrPricingInvalidInput, i)
		}
		subtotal += item.UnitPrice * int64(item.Quantity)
	}

	if speed == "" {
		speed = DeliveryStandard
	}
	shipping, ok := e.shippingFees[speed]
	if !ok {
		return domain.Pricing{}, fmt.Errorf("%w: unknown delivery speed %q", ErrPricingInvalidInput, speed)
	}

	pricing := domain.Pricing{
		Subtotal:  subtotal,
		Shipping:  shipping,
		Tax:       0,
		Discount:  0,
		PromoCode: strings.TrimSpace(promoCode),
		Currency:  "INR",
	}
	pricing.Total = pricing.Subtotal + pricing.Shipping + pricing.Tax - pricing.Discount

	e.logger(ctx, "pricing.quote", map[string]any{
		"subtotal": pricing.Subtotal,
		"shipping": pricing.Shipping,
		"total":    pricing.Total,
		"speed":    string(speed),
	})
	return pricing, nil
}
