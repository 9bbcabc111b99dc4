// Package checkout implements the checkout session state machine and the
// completion flow that turns a session plus a vault token into an order.
package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopbridge/acp"
	"github.com/shopbridge/acp/capture"
)

const (
	DefaultCurrency            = "usd"
	DefaultCountry             = "US"
	DefaultCollaboratorTimeout = 5 * time.Second

	canceledMessage = "Checkout session has been canceled."
)

// Config wires a [Service]. Catalog, Shipping, Customers, Orders and Vault
// are required.
type Config struct {
	Store          SessionStore
	Catalog        Catalog
	Shipping       ShippingMethods
	Customers      Customers
	Orders         Orders
	PaymentMethods PaymentMethods
	Vault          TokenVault
	Capturer       capture.Capturer
	Notifier       Notifier

	// BaseURL prefixes order permalinks and the terms link.
	BaseURL             string
	Currency            string
	DefaultCountry      string
	PaymentProvider     acp.PaymentProviderProvider
	CollaboratorTimeout time.Duration

	Logger *zap.Logger
	Clock  func() time.Time
}

// Service implements [acp.CheckoutProvider].
type Service struct {
	store          SessionStore
	catalog        Catalog
	shipping       ShippingMethods
	customers      Customers
	orders         Orders
	paymentMethods PaymentMethods
	vault          TokenVault
	capturer       capture.Capturer
	notifier       Notifier

	baseURL        string
	currency       string
	defaultCountry string
	provider       acp.PaymentProviderProvider
	timeout        time.Duration

	logger   *zap.Logger
	now      func() time.Time
	inflight sync.WaitGroup
}

var _ acp.CheckoutProvider = (*Service)(nil)

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Catalog == nil:
		return nil, errors.New("checkout: catalog is required")
	case cfg.Shipping == nil:
		return nil, errors.New("checkout: shipping methods are required")
	case cfg.Customers == nil:
		return nil, errors.New("checkout: customers are required")
	case cfg.Orders == nil:
		return nil, errors.New("checkout: orders are required")
	case cfg.Vault == nil:
		return nil, errors.New("checkout: token vault is required")
	}
	s := &Service{
		store:          cfg.Store,
		catalog:        cfg.Catalog,
		shipping:       cfg.Shipping,
		customers:      cfg.Customers,
		orders:         cfg.Orders,
		paymentMethods: cfg.PaymentMethods,
		vault:          cfg.Vault,
		capturer:       cfg.Capturer,
		notifier:       cfg.Notifier,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		currency:       strings.ToLower(cfg.Currency),
		defaultCountry: strings.ToUpper(cfg.DefaultCountry),
		provider:       cfg.PaymentProvider,
		timeout:        cfg.CollaboratorTimeout,
		logger:         cfg.Logger,
		now:            cfg.Clock,
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	if s.capturer == nil {
		s.capturer = capture.DefaultRegistry()
	}
	if s.currency == "" {
		s.currency = DefaultCurrency
	}
	if s.defaultCountry == "" {
		s.defaultCountry = DefaultCountry
	}
	if s.provider == "" {
		s.provider = acp.PaymentProviderProviderStripe
	}
	if s.timeout <= 0 {
		s.timeout = DefaultCollaboratorTimeout
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Wait blocks until in-flight webhook deliveries finish.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// CreateSession prices the requested items and stores a session that is
// ready for payment.
func (s *Service) CreateSession(ctx context.Context, req acp.CheckoutSessionCreateRequest) (*acp.CheckoutSession, error) {
	now := s.now().UTC()
	session := &Session{
		ID:        "cs_" + uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	draft := draft{
		items:   req.Items,
		buyer:   req.Buyer,
		address: req.FulfillmentAddress,
	}
	// Jurisdiction may come from the customer, so resolve them before pricing.
	if err := s.attachCustomer(ctx, session, draft.buyer, draft.address); err != nil {
		return nil, err
	}
	snapshot, err := s.render(ctx, session, draft)
	if err != nil {
		return nil, err
	}
	session.Snapshot = snapshot
	if err := s.store.Create(ctx, session); err != nil {
		return nil, s.storeError("create", err)
	}
	s.logger.Info("checkout session created",
		zap.String("checkout_session_id", session.ID),
		zap.Int("line_items", len(snapshot.LineItems)),
	)
	out := cloneSession(session.Snapshot)
	return &out, nil
}

// GetSession returns the stored session view.
func (s *Service) GetSession(ctx context.Context, id string) (*acp.CheckoutSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	out := cloneSession(session.Snapshot)
	return &out, nil
}

// UpdateSession applies a delta to a mutable session and reprices it.
func (s *Service) UpdateSession(ctx context.Context, id string, req acp.CheckoutSessionUpdateRequest) (*acp.CheckoutSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status().Terminal() {
		return nil, invalidState(http.StatusBadRequest, "checkout session is "+string(session.Status())+" and can no longer be updated")
	}
	if session.CompletionToken != "" {
		return nil, invalidState(http.StatusBadRequest, "checkout session is being completed")
	}

	d := draft{
		items:    items(session.Snapshot),
		buyer:    session.Snapshot.Buyer,
		address:  session.Snapshot.FulfillmentAddress,
		optionID: deref(session.Snapshot.FulfillmentOptionId),
	}
	if req.Items != nil {
		d.items = *req.Items
	}
	if req.FulfillmentOptionId != nil {
		d.optionID = strings.TrimSpace(*req.FulfillmentOptionId)
		d.explicitOption = true
	}
	if req.Buyer != nil {
		d.buyer = req.Buyer
	}
	if req.FulfillmentAddress != nil {
		d.address = req.FulfillmentAddress
	}
	if err := s.attachCustomer(ctx, session, req.Buyer, req.FulfillmentAddress); err != nil {
		return nil, err
	}

	snapshot, err := s.render(ctx, session, d)
	if err != nil {
		return nil, err
	}
	session.Snapshot = snapshot
	session.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, session); err != nil {
		return nil, s.transitionError(ctx, id, http.StatusBadRequest, err)
	}
	out := cloneSession(session.Snapshot)
	return &out, nil
}

// CancelSession moves a mutable session to canceled.
func (s *Service) CancelSession(ctx context.Context, id string) (*acp.CheckoutSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status().Terminal() {
		return nil, invalidState(http.StatusMethodNotAllowed, "checkout session is "+string(session.Status())+" and cannot be canceled")
	}

	snapshot := cloneSession(session.Snapshot)
	snapshot.Status = acp.CheckoutSessionStatusCanceled
	snapshot.Messages = append(snapshot.Messages, infoMessage(canceledMessage))
	if err := s.store.Cancel(ctx, id, session.Version, snapshot, s.now().UTC()); err != nil {
		return nil, s.transitionError(ctx, id, http.StatusMethodNotAllowed, err)
	}
	s.logger.Info("checkout session canceled", zap.String("checkout_session_id", id))
	return &snapshot, nil
}

func (s *Service) load(ctx context.Context, id string) (*Session, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, acp.NewNotFoundError(acp.NotFound, "checkout session not found", acp.WithOffendingParam("$.checkout_session_id"))
		}
		return nil, s.storeError("get", err)
	}
	return session, nil
}

// attachCustomer finds or creates the buyer's account and records the
// address on it.
func (s *Service) attachCustomer(ctx context.Context, session *Session, buyer *acp.Buyer, address *acp.Address) error {
	if buyer != nil {
		var customer *Customer
		err := s.call(ctx, "customer lookup", func(ctx context.Context) error {
			var err error
			customer, err = s.customers.FindOrCreate(ctx, *buyer)
			return err
		})
		if err != nil {
			return err
		}
		session.CustomerID = customer.ID
		session.CustomerCountry = strings.ToUpper(customer.Country)
	}
	if address != nil && session.CustomerID != "" {
		err := s.call(ctx, "customer address update", func(ctx context.Context) error {
			return s.customers.UpdateAddress(ctx, session.CustomerID, *address)
		})
		if err != nil {
			return err
		}
		session.CustomerCountry = strings.ToUpper(address.Country)
	}
	return nil
}

// transitionError maps a rejected store write to the protocol error for the
// session's current state.
func (s *Service) transitionError(ctx context.Context, id string, illegalStatus int, err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return acp.NewNotFoundError(acp.NotFound, "checkout session not found", acp.WithOffendingParam("$.checkout_session_id"))
	case errors.Is(err, ErrVersionConflict):
		return acp.NewHTTPError(http.StatusConflict, acp.InvalidRequest, acp.ConcurrentUpdate, "checkout session was modified by another request; retry with the latest state")
	case errors.Is(err, ErrCompletionClaimed):
		return invalidState(illegalStatus, "checkout session is being completed")
	case errors.Is(err, ErrSessionClosed):
		status := "closed"
		if session, getErr := s.store.Get(ctx, id); getErr == nil {
			status = string(session.Status())
		}
		return invalidState(illegalStatus, "checkout session is "+status)
	}
	return s.storeError("write", err)
}

func (s *Service) storeError(op string, err error) error {
	s.logger.Error("checkout session store failed", zap.String("op", op), zap.Error(err))
	return acp.NewProcessingError("checkout session storage is unavailable")
}

// call runs fn under the collaborator timeout and fails closed.
func (s *Service) call(ctx context.Context, what string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("collaborator timed out", zap.String("call", what), zap.Duration("timeout", s.timeout))
		return acp.NewProcessingError(what + " timed out")
	}
	var acpErr *acp.Error
	if errors.As(err, &acpErr) {
		return err
	}
	s.logger.Error("collaborator failed", zap.String("call", what), zap.Error(err))
	return acp.NewProcessingError(what + " failed")
}

func invalidState(status int, message string) *acp.Error {
	return acp.NewHTTPError(status, acp.InvalidRequest, acp.InvalidState, message)
}

func infoMessage(content string) acp.Message {
	var msg acp.Message
	_ = msg.FromMessageInfo(acp.MessageInfo{
		Type:        "info",
		Content:     content,
		ContentType: acp.MessageInfoContentTypePlain,
	})
	return msg
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
