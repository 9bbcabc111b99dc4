// Package catalog provides in-memory merchant collaborators for the checkout
// service: products, jurisdiction tax rates, shipping methods, customers,
// orders and payment-method bindings.
package catalog

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/shopbridge/acp/checkout"
)

// Catalog is an in-memory [checkout.Catalog].
type Catalog struct {
	products    map[string]checkout.Product
	taxRates    map[string]decimal.Decimal
	defaultRate decimal.Decimal
}

var _ checkout.Catalog = (*Catalog)(nil)

// New indexes products by SKU. Countries without an entry in taxRates are
// taxed at defaultRate.
func New(products []checkout.Product, taxRates map[string]decimal.Decimal, defaultRate decimal.Decimal) *Catalog {
	index := make(map[string]checkout.Product, len(products))
	for _, p := range products {
		index[p.SKU] = p
	}
	rates := make(map[string]decimal.Decimal, len(taxRates))
	for country, rate := range taxRates {
		rates[strings.ToUpper(country)] = rate
	}
	return &Catalog{products: index, taxRates: rates, defaultRate: defaultRate}
}

// Demo is the coffee shop catalog served by acpd out of the box.
func Demo() *Catalog {
	return New(
		[]checkout.Product{
			{SKU: "latte", Title: "Oat Milk Latte", Price: 650},
			{SKU: "beans", Title: "Espresso Beans (1kg)", Price: 2400},
			{SKU: "mug", Title: "Stoneware Mug", Price: 1500},
		},
		map[string]decimal.Decimal{
			"US": decimal.RequireFromString("0.07"),
			"DE": decimal.RequireFromString("0.19"),
			"GB": decimal.RequireFromString("0.20"),
		},
		decimal.Zero,
	)
}

// ProductBySKU implements [checkout.Catalog].
func (c *Catalog) ProductBySKU(_ context.Context, sku string) (*checkout.Product, error) {
	p, ok := c.products[sku]
	if !ok {
		return nil, checkout.ErrProductNotFound
	}
	return &p, nil
}

// TaxRate implements [checkout.Catalog].
func (c *Catalog) TaxRate(_ context.Context, country string) (decimal.Decimal, error) {
	if rate, ok := c.taxRates[strings.ToUpper(country)]; ok {
		return rate, nil
	}
	return c.defaultRate, nil
}

// ShippingMethod pairs a method with the countries it ships to. An empty
// Countries list ships everywhere.
type ShippingMethod struct {
	checkout.ShippingMethod
	Countries []string
}

// Shipping is an in-memory [checkout.ShippingMethods].
type Shipping struct {
	methods []ShippingMethod
}

var _ checkout.ShippingMethods = (*Shipping)(nil)

// NewShipping keeps methods in the given order; the first applicable one is
// the default selection.
func NewShipping(methods ...ShippingMethod) *Shipping {
	return &Shipping{methods: slices.Clone(methods)}
}

// DemoShipping offers standard and express shipping everywhere.
func DemoShipping() *Shipping {
	return NewShipping(
		ShippingMethod{ShippingMethod: checkout.ShippingMethod{
			ID: "ship_standard", Title: "Standard Shipping", Subtitle: "2-4 business days",
			Carrier: "USPS", Cost: 500, MinDays: 2, MaxDays: 4,
		}},
		ShippingMethod{ShippingMethod: checkout.ShippingMethod{
			ID: "ship_express", Title: "Express Shipping", Subtitle: "Next business day",
			Carrier: "UPS", Cost: 1500, MinDays: 1, MaxDays: 1,
		}},
	)
}

// List implements [checkout.ShippingMethods].
func (s *Shipping) List(_ context.Context, country string) ([]checkout.ShippingMethod, error) {
	out := make([]checkout.ShippingMethod, 0, len(s.methods))
	for _, m := range s.methods {
		if len(m.Countries) == 0 || slices.ContainsFunc(m.Countries, func(c string) bool {
			return strings.EqualFold(c, country)
		}) {
			out = append(out, m.ShippingMethod)
		}
	}
	return out, nil
}

// Get implements [checkout.ShippingMethods].
func (s *Shipping) Get(_ context.Context, id string) (*checkout.ShippingMethod, error) {
	for _, m := range s.methods {
		if m.ID == id {
			method := m.ShippingMethod
			return &method, nil
		}
	}
	return nil, checkout.ErrShippingMethodNotFound
}

// PaymentMethods is a static [checkout.PaymentMethods] table.
type PaymentMethods map[string]string

var _ checkout.PaymentMethods = PaymentMethods(nil)

// DemoPaymentMethods binds the built-in capture providers.
func DemoPaymentMethods() PaymentMethods {
	return PaymentMethods{
		"stripe": "pm_stripe",
		"paypal": "pm_paypal",
		"adyen":  "pm_adyen",
	}
}

// ForProvider implements [checkout.PaymentMethods]. Unknown providers have no
// bound method.
func (p PaymentMethods) ForProvider(_ context.Context, provider string) (string, error) {
	return p[strings.ToLower(provider)], nil
}

// OrderBook is an in-memory [checkout.Orders].
type OrderBook struct {
	mu      sync.Mutex
	orders  map[string]checkout.OrderRequest
	decline func(checkout.OrderRequest) bool
}

var _ checkout.Orders = (*OrderBook)(nil)

// NewOrderBook returns an empty order book. decline, when set, rejects
// matching orders with [checkout.ErrPaymentDeclined].
func NewOrderBook(decline func(checkout.OrderRequest) bool) *OrderBook {
	return &OrderBook{orders: make(map[string]checkout.OrderRequest), decline: decline}
}

// PlaceOrder implements [checkout.Orders].
func (b *OrderBook) PlaceOrder(_ context.Context, req checkout.OrderRequest) error {
	if b.decline != nil && b.decline(req) {
		return checkout.ErrPaymentDeclined
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[req.ID] = req
	return nil
}

// Order returns a placed order.
func (b *OrderBook) Order(id string) (checkout.OrderRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	return o, ok
}

// Orders returns a snapshot of every placed order.
func (b *OrderBook) Orders() map[string]checkout.OrderRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.orders)
}
