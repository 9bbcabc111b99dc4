package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopbridge/acp"
	"github.com/shopbridge/acp/checkout"
)

func TestCatalogTaxRates(t *testing.T) {
	c := Demo()
	ctx := context.Background()

	tests := map[string]struct {
		country string
		want    string
	}{
		"known":     {country: "US", want: "0.07"},
		"lowercase": {country: "de", want: "0.19"},
		"fallback":  {country: "JP", want: "0"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rate, err := c.TaxRate(ctx, tc.country)
			require.NoError(t, err)
			assert.True(t, rate.Equal(decimal.RequireFromString(tc.want)), "got %s", rate)
		})
	}

	p, err := c.ProductBySKU(ctx, "latte")
	require.NoError(t, err)
	assert.Equal(t, 650, p.Price)

	_, err = c.ProductBySKU(ctx, "tea")
	assert.ErrorIs(t, err, checkout.ErrProductNotFound)
}

func TestShippingCountries(t *testing.T) {
	s := NewShipping(
		ShippingMethod{ShippingMethod: checkout.ShippingMethod{ID: "domestic", Cost: 500}, Countries: []string{"US"}},
		ShippingMethod{ShippingMethod: checkout.ShippingMethod{ID: "intl", Cost: 2500}},
	)
	ctx := context.Background()

	us, err := s.List(ctx, "us")
	require.NoError(t, err)
	require.Len(t, us, 2)
	assert.Equal(t, "domestic", us[0].ID)

	de, err := s.List(ctx, "DE")
	require.NoError(t, err)
	require.Len(t, de, 1)
	assert.Equal(t, "intl", de[0].ID)

	_, err = s.Get(ctx, "drone")
	assert.ErrorIs(t, err, checkout.ErrShippingMethodNotFound)
}

func TestCustomersFindOrCreateByEmail(t *testing.T) {
	c := NewCustomers()
	ctx := context.Background()

	first, err := c.FindOrCreate(ctx, acp.Buyer{Email: "Ada@Example.com", FirstName: "Ada", LastName: "L"})
	require.NoError(t, err)
	second, err := c.FindOrCreate(ctx, acp.Buyer{Email: "ada@example.com", FirstName: "Ada", LastName: "L"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.UpdateAddress(ctx, first.ID, acp.Address{Country: "gb"}))
	again, err := c.FindOrCreate(ctx, acp.Buyer{Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "GB", again.Country)

	assert.Error(t, c.UpdateAddress(ctx, "cus_missing", acp.Address{Country: "US"}))
}

func TestOrderBookDecline(t *testing.T) {
	book := NewOrderBook(func(o checkout.OrderRequest) bool { return o.Total > 10000 })
	ctx := context.Background()

	require.NoError(t, book.PlaceOrder(ctx, checkout.OrderRequest{ID: "ord_1", Total: 500}))
	assert.ErrorIs(t, book.PlaceOrder(ctx, checkout.OrderRequest{ID: "ord_2", Total: 20000}), checkout.ErrPaymentDeclined)

	_, ok := book.Order("ord_1")
	assert.True(t, ok)
	assert.Len(t, book.Orders(), 1)
}
