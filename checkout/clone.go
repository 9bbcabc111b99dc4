package checkout

import (
	"slices"

	"github.com/shopbridge/acp"
)

func cloneRecord(src *Session) *Session {
	dst := *src
	dst.Snapshot = cloneSession(src.Snapshot)
	return &dst
}

func cloneSession(src acp.CheckoutSession) acp.CheckoutSession {
	dst := src
	dst.Buyer = cloneBuyer(src.Buyer)
	dst.FulfillmentAddress = cloneAddress(src.FulfillmentAddress)
	dst.PaymentProvider = clonePaymentProvider(src.PaymentProvider)
	if src.FulfillmentOptionId != nil {
		id := *src.FulfillmentOptionId
		dst.FulfillmentOptionId = &id
	}
	dst.LineItems = slices.Clone(src.LineItems)
	dst.Totals = slices.Clone(src.Totals)
	dst.Links = slices.Clone(src.Links)
	dst.FulfillmentOptions = slices.Clone(src.FulfillmentOptions)
	dst.Messages = slices.Clone(src.Messages)
	return dst
}

func cloneBuyer(b *acp.Buyer) *acp.Buyer {
	if b == nil {
		return nil
	}
	copy := *b
	if b.PhoneNumber != nil {
		phone := *b.PhoneNumber
		copy.PhoneNumber = &phone
	}
	return &copy
}

func cloneAddress(a *acp.Address) *acp.Address {
	if a == nil {
		return nil
	}
	copy := *a
	if a.LineTwo != nil {
		line := *a.LineTwo
		copy.LineTwo = &line
	}
	return &copy
}

func clonePaymentProvider(p *acp.PaymentProvider) *acp.PaymentProvider {
	if p == nil {
		return nil
	}
	copy := *p
	copy.SupportedPaymentMethods = slices.Clone(p.SupportedPaymentMethods)
	return &copy
}

// items recovers the requested items from a rendered snapshot.
func items(snapshot acp.CheckoutSession) []acp.Item {
	out := make([]acp.Item, 0, len(snapshot.LineItems))
	for _, line := range snapshot.LineItems {
		out = append(out, line.Item)
	}
	return out
}
