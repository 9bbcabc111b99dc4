package acp

import (
	"fmt"
	"strings"
)

// Validate ensures CheckoutSessionCreateRequest satisfies required schema constraints.
func (r CheckoutSessionCreateRequest) Validate() error {
	if len(r.Items) == 0 {
		return NewInvalidRequestCodeError(MissingField, "items must contain at least one entry", WithOffendingParam("$.items"))
	}
	if err := validateItems(r.Items); err != nil {
		return err
	}
	if err := validateBuyer(r.Buyer); err != nil {
		return err
	}
	return validateAddress("$.fulfillment_address", r.FulfillmentAddress)
}

// Validate ensures CheckoutSessionUpdateRequest maintains schema constraints.
func (r CheckoutSessionUpdateRequest) Validate() error {
	if r.Items != nil {
		if len(*r.Items) == 0 {
			return NewInvalidRequestCodeError(InvalidField, "items cannot be emptied", WithOffendingParam("$.items"))
		}
		if err := validateItems(*r.Items); err != nil {
			return err
		}
	}
	if r.FulfillmentOptionId != nil && strings.TrimSpace(*r.FulfillmentOptionId) == "" {
		return NewInvalidRequestCodeError(InvalidField, "fulfillment_option_id cannot be blank", WithOffendingParam("$.fulfillment_option_id"))
	}
	if err := validateBuyer(r.Buyer); err != nil {
		return err
	}
	return validateAddress("$.fulfillment_address", r.FulfillmentAddress)
}

// Validate ensures CheckoutSessionCompleteRequest carries a payment token.
func (r CheckoutSessionCompleteRequest) Validate() error {
	if strings.TrimSpace(r.PaymentData.Token) == "" {
		return NewInvalidRequestCodeError(MissingField, "payment_data.token is required", WithOffendingParam("$.payment_data.token"))
	}
	return validateBuyer(r.Buyer)
}

// Limits on a single checkout request.
const (
	MaxItems        = 100
	MaxItemQuantity = 10000
)

func validateItems(items []Item) error {
	if len(items) > MaxItems {
		return NewInvalidRequestCodeError(InvalidField, fmt.Sprintf("items cannot contain more than %d entries", MaxItems), WithOffendingParam("$.items"))
	}
	for i, item := range items {
		if item.ID == "" {
			param := fmt.Sprintf("$.items[%d].id", i)
			return NewInvalidRequestCodeError(MissingField, param[2:]+" is required", WithOffendingParam(param))
		}
		if item.Quantity <= 0 || item.Quantity > MaxItemQuantity {
			param := fmt.Sprintf("$.items[%d].quantity", i)
			return NewInvalidRequestCodeError(InvalidField, fmt.Sprintf("%s must be between 1 and %d", param[2:], MaxItemQuantity), WithOffendingParam(param))
		}
	}
	return nil
}

func validateBuyer(b *Buyer) error {
	if b == nil {
		return nil
	}
	switch {
	case strings.TrimSpace(b.Email) == "":
		return NewInvalidRequestCodeError(MissingField, "buyer.email is required", WithOffendingParam("$.buyer.email"))
	case !strings.Contains(b.Email, "@"):
		return NewInvalidRequestCodeError(InvalidField, "buyer.email must be an email address", WithOffendingParam("$.buyer.email"))
	case strings.TrimSpace(b.FirstName) == "":
		return NewInvalidRequestCodeError(MissingField, "buyer.first_name is required", WithOffendingParam("$.buyer.first_name"))
	case strings.TrimSpace(b.LastName) == "":
		return NewInvalidRequestCodeError(MissingField, "buyer.last_name is required", WithOffendingParam("$.buyer.last_name"))
	}
	return nil
}

func validateAddress(param string, a *Address) error {
	if a == nil {
		return nil
	}
	if len(strings.TrimSpace(a.Country)) != 2 {
		return NewInvalidRequestCodeError(InvalidField, param[2:]+".country must be an ISO 3166-1 alpha-2 code", WithOffendingParam(param+".country"))
	}
	return nil
}
