package checkout

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/shopbridge/acp"
	"github.com/shopbridge/acp/vault"
)

var (
	ErrProductNotFound        = errors.New("checkout: product not found")
	ErrShippingMethodNotFound = errors.New("checkout: shipping method not found")
	// ErrPaymentDeclined is returned by [Orders] when the payment pipeline
	// refuses the order.
	ErrPaymentDeclined = errors.New("checkout: payment declined")
)

// Product is a sellable catalog entry priced in minor units of the merchant
// currency.
type Product struct {
	SKU   string
	Title string
	Price int
}

// Catalog resolves SKUs and jurisdiction tax rates.
type Catalog interface {
	ProductBySKU(ctx context.Context, sku string) (*Product, error)
	// TaxRate returns the fractional rate applied to item subtotals shipped
	// to country (ISO 3166-1 alpha-2).
	TaxRate(ctx context.Context, country string) (decimal.Decimal, error)
}

// ShippingMethod is a fulfillment option offered to the buyer.
type ShippingMethod struct {
	ID       string
	Title    string
	Subtitle string
	Carrier  string
	// Cost in minor units.
	Cost    int
	MinDays int
	MaxDays int
}

// ShippingMethods lists and resolves fulfillment options.
type ShippingMethods interface {
	List(ctx context.Context, country string) ([]ShippingMethod, error)
	Get(ctx context.Context, id string) (*ShippingMethod, error)
}

// Customer is the merchant-side account a buyer maps to.
type Customer struct {
	ID      string
	Email   string
	Country string
}

// Customers finds or creates accounts by buyer email.
type Customers interface {
	FindOrCreate(ctx context.Context, buyer acp.Buyer) (*Customer, error)
	UpdateAddress(ctx context.Context, customerID string, address acp.Address) error
}

// OrderRequest is handed to [Orders] at completion.
type OrderRequest struct {
	ID                string
	CheckoutSessionID string
	CustomerID        string
	Buyer             *acp.Buyer
	Address           *acp.Address
	LineItems         []acp.LineItem
	ShippingMethodID  string
	Total             int
	Currency          string
	Provider          string
	PaymentMethodID   string
}

// Orders persists orders.
type Orders interface {
	PlaceOrder(ctx context.Context, req OrderRequest) error
}

// PaymentMethods maps a provider tag to the merchant payment method bound
// into the order's pricing context.
type PaymentMethods interface {
	ForProvider(ctx context.Context, provider string) (string, error)
}

// TokenVault is the view of the token vault that completion needs.
type TokenVault interface {
	Resolve(ctx context.Context, id string) (*vault.Token, error)
	Consume(ctx context.Context, id, orderID string) error
}

// Notifier delivers order webhooks. *acp.WebhookSender satisfies it.
type Notifier interface {
	Send(ctx context.Context, data acp.EventData) error
}
