package acp

import (
	"encoding/json"
	"time"
)

// CheckoutSessionStatus is the session state. Transitions only move along
// created -> ready_for_payment -> {completed, canceled}; the last two are terminal.
type CheckoutSessionStatus string

const (
	CheckoutSessionStatusCreated         CheckoutSessionStatus = "created"
	CheckoutSessionStatusReadyForPayment CheckoutSessionStatus = "ready_for_payment"
	CheckoutSessionStatusCompleted       CheckoutSessionStatus = "completed"
	CheckoutSessionStatusCanceled        CheckoutSessionStatus = "canceled"
)

// Terminal reports whether no further transition is allowed.
func (s CheckoutSessionStatus) Terminal() bool {
	return s == CheckoutSessionStatusCompleted || s == CheckoutSessionStatusCanceled
}

// LinkType names the merchant policy a Link points at.
type LinkType string

const (
	PrivacyPolicy      LinkType = "privacy_policy"
	SellerShopPolicies LinkType = "seller_shop_policies"
	TermsOfUse         LinkType = "terms_of_use"
)

// MessageInfoContentType is the markup of a message body.
type MessageInfoContentType string

const (
	MessageInfoContentTypeMarkdown MessageInfoContentType = "markdown"
	MessageInfoContentTypePlain    MessageInfoContentType = "plain"
)

// SupportedPaymentMethods lists the instruments a provider accepts.
type SupportedPaymentMethods string

const (
	Card SupportedPaymentMethods = "card"
)

// TotalType labels a row of the session totals.
type TotalType string

const (
	TotalTypeDiscount        TotalType = "discount"
	TotalTypeFee             TotalType = "fee"
	TotalTypeFulfillment     TotalType = "fulfillment"
	TotalTypeItemsBaseAmount TotalType = "items_base_amount"
	TotalTypeItemsDiscount   TotalType = "items_discount"
	TotalTypeSubtotal        TotalType = "subtotal"
	TotalTypeTax             TotalType = "tax"
	TotalTypeTotal           TotalType = "total"
)

// Address is a postal address; Country is ISO 3166-1 alpha-2.
type Address struct {
	Name       string  `json:"name"`
	LineOne    string  `json:"line_one"`
	LineTwo    *string `json:"line_two,omitempty"`
	PostalCode string  `json:"postal_code"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	Country    string  `json:"country"`
}

type Buyer struct {
	Email       string  `json:"email"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	PhoneNumber *string `json:"phone_number,omitempty"`
}

// CheckoutSession is the merchant-authoritative view returned on every call.
// Amounts are integer minor units of Currency.
type CheckoutSession struct {
	ID                  string                `json:"id"`
	Buyer               *Buyer                `json:"buyer,omitempty"`
	Currency            string                `json:"currency"`
	FulfillmentAddress  *Address              `json:"fulfillment_address,omitempty"`
	FulfillmentOptionId *string               `json:"fulfillment_option_id,omitempty"`
	FulfillmentOptions  []FulfillmentOption   `json:"fulfillment_options"`
	LineItems           []LineItem            `json:"line_items"`
	Links               []Link                `json:"links"`
	Messages            []Message             `json:"messages"`
	PaymentProvider     *PaymentProvider      `json:"payment_provider,omitempty"`
	Status              CheckoutSessionStatus `json:"status"`
	Totals              []Total               `json:"totals"`
}

// FulfillmentOption holds one fulfillment choice as raw JSON; only shipping
// options are produced.
type FulfillmentOption struct {
	union json.RawMessage
}

// Message holds one session message as raw JSON.
type Message struct {
	union json.RawMessage
}

type CheckoutSessionCompleteRequest struct {
	Buyer       *Buyer      `json:"buyer,omitempty"`
	PaymentData PaymentData `json:"payment_data"`
}

type CheckoutSessionCreateRequest struct {
	Buyer              *Buyer   `json:"buyer,omitempty"`
	FulfillmentAddress *Address `json:"fulfillment_address,omitempty"`
	Items              []Item   `json:"items"`
}

// CheckoutSessionUpdateRequest replaces only the fields that are set.
type CheckoutSessionUpdateRequest struct {
	Buyer               *Buyer   `json:"buyer,omitempty"`
	FulfillmentAddress  *Address `json:"fulfillment_address,omitempty"`
	FulfillmentOptionId *string  `json:"fulfillment_option_id,omitempty"`
	Items               *[]Item  `json:"items,omitempty"`
}

// SessionWithOrder is the completion response.
type SessionWithOrder struct {
	CheckoutSession
	Order Order `json:"order"`
}

// FulfillmentOptionShipping is a carrier option. Amounts are minor units
// rendered as strings.
type FulfillmentOptionShipping struct {
	ID                   string     `json:"id"`
	Carrier              *string    `json:"carrier,omitempty"`
	EarliestDeliveryTime *time.Time `json:"earliest_delivery_time,omitempty"`
	LatestDeliveryTime   *time.Time `json:"latest_delivery_time,omitempty"`
	Subtitle             *string    `json:"subtitle,omitempty"`
	Subtotal             string     `json:"subtotal"`
	Tax                  string     `json:"tax"`
	Title                string     `json:"title"`
	Total                string     `json:"total"`
	Type                 string     `json:"type"`
}

type Item struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// LineItem is a priced Item; Total is Subtotal plus Tax.
type LineItem struct {
	ID         string `json:"id"`
	BaseAmount int    `json:"base_amount"`
	Discount   int    `json:"discount"`
	Item       Item   `json:"item"`
	Subtotal   int    `json:"subtotal"`
	Tax        int    `json:"tax"`
	Total      int    `json:"total"`
}

type Link struct {
	Type LinkType `json:"type"`
	Url  string   `json:"url"`
}

// MessageInfo is an informational message.
type MessageInfo struct {
	Content     string                 `json:"content"`
	ContentType MessageInfoContentType `json:"content_type"`

	// Param RFC 9535 JSONPath
	Param *string `json:"param,omitempty"`
	Type  string  `json:"type"`
}

// Order identifies the order placed by a completion.
type Order struct {
	ID                string `json:"id"`
	CheckoutSessionId string `json:"checkout_session_id"`
	PermalinkUrl      string `json:"permalink_url"`
}

// PaymentData carries the vault token. Provider is accepted for
// schema compatibility but ignored: the provider always comes from the token.
type PaymentData struct {
	BillingAddress *Address            `json:"billing_address,omitempty"`
	Provider       PaymentDataProvider `json:"provider,omitempty"`
	Token          string              `json:"token"`
}

type PaymentDataProvider string

// PaymentProvider advertises the merchant's PSP to the agent.
type PaymentProvider struct {
	Provider                PaymentProviderProvider   `json:"provider"`
	SupportedPaymentMethods []SupportedPaymentMethods `json:"supported_payment_methods"`
}

type PaymentProviderProvider string

const (
	PaymentProviderProviderStripe PaymentProviderProvider = "stripe"
	PaymentProviderProviderPayPal PaymentProviderProvider = "paypal"
	PaymentProviderProviderAdyen  PaymentProviderProvider = "adyen"
)

type Total struct {
	Amount      int       `json:"amount"`
	DisplayText string    `json:"display_text"`
	Type        TotalType `json:"type"`
}

// AsFulfillmentOptionShipping decodes the option as a shipping option.
func (t FulfillmentOption) AsFulfillmentOptionShipping() (FulfillmentOptionShipping, error) {
	var body FulfillmentOptionShipping
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromFulfillmentOptionShipping replaces the option with v.
func (t *FulfillmentOption) FromFulfillmentOptionShipping(v FulfillmentOptionShipping) error {
	b, err := json.Marshal(v)
	t.union = b
	return err
}

func (t FulfillmentOption) MarshalJSON() ([]byte, error) {
	return t.union.MarshalJSON()
}

func (t *FulfillmentOption) UnmarshalJSON(b []byte) error {
	return t.union.UnmarshalJSON(b)
}

// AsMessageInfo decodes the message as an info message.
func (t Message) AsMessageInfo() (MessageInfo, error) {
	var body MessageInfo
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromMessageInfo replaces the message with v.
func (t *Message) FromMessageInfo(v MessageInfo) error {
	b, err := json.Marshal(v)
	t.union = b
	return err
}

func (t Message) MarshalJSON() ([]byte, error) {
	return t.union.MarshalJSON()
}

func (t *Message) UnmarshalJSON(b []byte) error {
	return t.union.UnmarshalJSON(b)
}
