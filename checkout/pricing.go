package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shopbridge/acp"
)

// maxLineAmount bounds a line total in minor units so session totals stay far
// from integer overflow.
var maxLineAmount = decimal.NewFromInt(1_000_000_000_000)

type draft struct {
	items   []acp.Item
	buyer   *acp.Buyer
	address *acp.Address
	// optionID is the selected fulfillment option; explicitOption marks a
	// selection made by this request rather than carried over.
	optionID       string
	explicitOption bool
}

// jurisdiction is the country tax and shipping are computed for: the
// fulfillment address, then the customer's country, then the merchant default.
func (s *Service) jurisdiction(session *Session, address *acp.Address) string {
	if address != nil && strings.TrimSpace(address.Country) != "" {
		return strings.ToUpper(strings.TrimSpace(address.Country))
	}
	if session.CustomerCountry != "" {
		return session.CustomerCountry
	}
	return s.defaultCountry
}

// render builds the full protocol view for d. The returned session is always
// ready_for_payment.
func (s *Service) render(ctx context.Context, session *Session, d draft) (acp.CheckoutSession, error) {
	country := s.jurisdiction(session, d.address)

	var rate decimal.Decimal
	err := s.call(ctx, "tax rate lookup", func(ctx context.Context) error {
		var err error
		rate, err = s.catalog.TaxRate(ctx, country)
		return err
	})
	if err != nil {
		return acp.CheckoutSession{}, err
	}

	lines, err := s.priceItems(ctx, d.items, rate)
	if err != nil {
		return acp.CheckoutSession{}, err
	}

	methods, selected, err := s.fulfillment(ctx, country, d)
	if err != nil {
		return acp.CheckoutSession{}, err
	}

	out := acp.CheckoutSession{
		ID:                 session.ID,
		Buyer:              cloneBuyer(d.buyer),
		Currency:           s.currency,
		FulfillmentAddress: cloneAddress(d.address),
		FulfillmentOptions: s.fulfillmentOptions(methods),
		LineItems:          lines,
		Links: []acp.Link{
			{Type: acp.TermsOfUse, Url: s.baseURL + "/terms"},
		},
		Messages: []acp.Message{},
		PaymentProvider: &acp.PaymentProvider{
			Provider:                s.provider,
			SupportedPaymentMethods: []acp.SupportedPaymentMethods{acp.Card},
		},
		Status: acp.CheckoutSessionStatusReadyForPayment,
	}
	shippingCost := 0
	if selected != nil {
		id := selected.ID
		out.FulfillmentOptionId = &id
		shippingCost = selected.Cost
	}
	out.Totals = buildTotals(lines, shippingCost)
	return out, nil
}

func (s *Service) priceItems(ctx context.Context, items []acp.Item, rate decimal.Decimal) ([]acp.LineItem, error) {
	lines := make([]acp.LineItem, 0, len(items))
	for idx, item := range items {
		var product *Product
		err := s.call(ctx, "catalog lookup", func(ctx context.Context) error {
			var err error
			product, err = s.catalog.ProductBySKU(ctx, item.ID)
			if errors.Is(err, ErrProductNotFound) {
				return acp.NewInvalidRequestCodeError(acp.NotFound,
					fmt.Sprintf("item %q is not sold by this merchant", item.ID),
					acp.WithOffendingParam(fmt.Sprintf("$.items[%d].id", idx)))
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		if item.Quantity <= 0 || product.Price < 0 {
			return nil, acp.NewInvalidRequestCodeError(acp.InvalidField, "item quantity must be positive",
				acp.WithOffendingParam(fmt.Sprintf("$.items[%d].quantity", idx)))
		}
		amount := decimal.NewFromInt(int64(product.Price)).Mul(decimal.NewFromInt(int64(item.Quantity)))
		taxAmount := amount.Mul(rate).Round(0)
		if amount.Add(taxAmount).GreaterThan(maxLineAmount) {
			return nil, acp.NewInvalidRequestCodeError(acp.InvalidField, "item amount exceeds the supported maximum",
				acp.WithOffendingParam(fmt.Sprintf("$.items[%d].quantity", idx)))
		}
		subtotal := int(amount.IntPart())
		tax := int(taxAmount.IntPart())
		lines = append(lines, acp.LineItem{
			ID:         fmt.Sprintf("li_%s_%d", item.ID, idx),
			Item:       item,
			BaseAmount: product.Price,
			Discount:   0,
			Subtotal:   subtotal,
			Tax:        tax,
			Total:      subtotal + tax,
		})
	}
	return lines, nil
}

// fulfillment lists the options for country and picks the selected one. A
// carried-over selection that no longer applies falls back to the first
// option.
func (s *Service) fulfillment(ctx context.Context, country string, d draft) ([]ShippingMethod, *ShippingMethod, error) {
	var methods []ShippingMethod
	err := s.call(ctx, "shipping method listing", func(ctx context.Context) error {
		var err error
		methods, err = s.shipping.List(ctx, country)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if d.explicitOption {
		var method *ShippingMethod
		err := s.call(ctx, "shipping method lookup", func(ctx context.Context) error {
			var err error
			method, err = s.shipping.Get(ctx, d.optionID)
			if errors.Is(err, ErrShippingMethodNotFound) {
				return acp.NewInvalidRequestCodeError(acp.InvalidField,
					fmt.Sprintf("fulfillment option %q is not available", d.optionID),
					acp.WithOffendingParam("$.fulfillment_option_id"))
			}
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		if !containsMethod(methods, method.ID) {
			methods = append(methods, *method)
		}
		return methods, method, nil
	}

	for i := range methods {
		if methods[i].ID == d.optionID {
			return methods, &methods[i], nil
		}
	}
	if len(methods) > 0 {
		return methods, &methods[0], nil
	}
	return methods, nil, nil
}

func containsMethod(methods []ShippingMethod, id string) bool {
	for _, m := range methods {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (s *Service) fulfillmentOptions(methods []ShippingMethod) []acp.FulfillmentOption {
	now := s.now().UTC()
	opts := make([]acp.FulfillmentOption, 0, len(methods))
	for _, m := range methods {
		earliest := now.Add(time.Duration(m.MinDays) * 24 * time.Hour)
		latest := now.Add(time.Duration(m.MaxDays) * 24 * time.Hour)
		shipping := acp.FulfillmentOptionShipping{
			ID:                   m.ID,
			Type:                 "shipping",
			Title:                m.Title,
			Subtotal:             strconv.Itoa(m.Cost),
			Tax:                  "0",
			Total:                strconv.Itoa(m.Cost),
			EarliestDeliveryTime: &earliest,
			LatestDeliveryTime:   &latest,
		}
		if m.Subtitle != "" {
			subtitle := m.Subtitle
			shipping.Subtitle = &subtitle
		}
		if m.Carrier != "" {
			carrier := m.Carrier
			shipping.Carrier = &carrier
		}
		var opt acp.FulfillmentOption
		_ = opt.FromFulfillmentOptionShipping(shipping)
		opts = append(opts, opt)
	}
	return opts
}

func buildTotals(lines []acp.LineItem, fulfillment int) []acp.Total {
	var itemsBase, subtotal, tax int
	for _, line := range lines {
		itemsBase += line.BaseAmount * line.Item.Quantity
		subtotal += line.Subtotal
		tax += line.Tax
	}
	return []acp.Total{
		{Type: acp.TotalTypeItemsBaseAmount, DisplayText: "Item(s) total", Amount: itemsBase},
		{Type: acp.TotalTypeSubtotal, DisplayText: "Subtotal", Amount: subtotal},
		{Type: acp.TotalTypeTax, DisplayText: "Tax", Amount: tax},
		{Type: acp.TotalTypeFulfillment, DisplayText: "Shipping", Amount: fulfillment},
		{Type: acp.TotalTypeTotal, DisplayText: "Total", Amount: subtotal + tax + fulfillment},
	}
}

func grandTotal(snapshot acp.CheckoutSession) int {
	for _, t := range snapshot.Totals {
		if t.Type == acp.TotalTypeTotal {
			return t.Amount
		}
	}
	return 0
}
