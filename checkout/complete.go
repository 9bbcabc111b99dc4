package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopbridge/acp"
	"github.com/shopbridge/acp/capture"
	"github.com/shopbridge/acp/vault"
)

// CompleteSession pays for a session with a vault token and places the
// order.
//
// The session is claimed before the token is consumed, and the token is
// consumed before the order is placed: a concurrent completion with the same
// token loses the claim and sees expired_token, and a failed consume never
// leaves an order behind. A pending or failed capture does not undo the
// order, and once the order exists the claim is never released.
func (s *Service) CompleteSession(ctx context.Context, id string, req acp.CheckoutSessionCompleteRequest) (*acp.SessionWithOrder, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := terminalError(session.Status()); err != nil {
		return nil, err
	}

	token, err := s.resolveToken(ctx, session, strings.TrimSpace(req.PaymentData.Token))
	if err != nil {
		return nil, err
	}

	holder, err := s.store.ClaimCompletion(ctx, id, token.ID)
	switch {
	case errors.Is(err, ErrCompletionClaimed) && holder == token.ID:
		return nil, expiredToken("payment token is already being used to complete this session")
	case errors.Is(err, ErrCompletionClaimed):
		return nil, acp.NewInvalidRequestCodeError(acp.AlreadyCompleted, "checkout session is already being completed")
	case errors.Is(err, ErrSessionClosed):
		current, loadErr := s.load(ctx, id)
		if loadErr != nil {
			return nil, loadErr
		}
		return nil, terminalError(current.Status())
	case err != nil:
		return nil, s.transitionError(ctx, id, http.StatusBadRequest, err)
	}

	result, placed, err := s.completeClaimed(ctx, session, token, req.Buyer)
	if err != nil {
		if placed {
			// The order exists, so the session must not become payable again.
			s.logger.Error("checkout session left claimed after order placement",
				zap.String("checkout_session_id", id),
				zap.String("token_id", token.ID),
				zap.Error(err),
			)
			return nil, err
		}
		if releaseErr := s.store.ReleaseClaim(context.WithoutCancel(ctx), id, token.ID); releaseErr != nil {
			s.logger.Error("release completion claim failed",
				zap.String("checkout_session_id", id),
				zap.Error(releaseErr),
			)
		}
		return nil, err
	}
	return result, nil
}

// completeClaimed runs the steps after the claim. Once the token is consumed
// the work is detached from ctx cancellation and bounded by the collaborator
// timeout instead. placed reports whether an order exists.
func (s *Service) completeClaimed(ctx context.Context, session *Session, token *vault.Token, buyer *acp.Buyer) (_ *acp.SessionWithOrder, placed bool, _ error) {
	snapshot := cloneSession(session.Snapshot)
	if buyer != nil {
		if err := s.attachCustomer(ctx, session, buyer, nil); err != nil {
			return nil, false, err
		}
		snapshot.Buyer = cloneBuyer(buyer)
	}

	ctx = context.WithoutCancel(ctx)
	orderID := "ord_" + uuid.NewString()
	if err := s.vault.Consume(ctx, token.ID, orderID); err != nil {
		switch {
		case errors.Is(err, vault.ErrTokenUsed), errors.Is(err, vault.ErrTokenExpired):
			return nil, false, expiredToken("payment token has expired or was already used")
		case errors.Is(err, vault.ErrTokenNotFound):
			return nil, false, invalidToken("payment token not found")
		}
		s.logger.Error("vault consume failed", zap.String("token_id", token.ID), zap.Error(err))
		return nil, false, acp.NewProcessingError("unable to consume payment token")
	}

	var paymentMethodID string
	if s.paymentMethods != nil {
		err := s.call(ctx, "payment method lookup", func(ctx context.Context) error {
			var err error
			paymentMethodID, err = s.paymentMethods.ForProvider(ctx, token.Provider)
			return err
		})
		if err != nil {
			return nil, false, err
		}
	}

	total := grandTotal(snapshot)
	order := OrderRequest{
		ID:                orderID,
		CheckoutSessionID: session.ID,
		CustomerID:        session.CustomerID,
		Buyer:             cloneBuyer(snapshot.Buyer),
		Address:           cloneAddress(snapshot.FulfillmentAddress),
		LineItems:         snapshot.LineItems,
		ShippingMethodID:  deref(snapshot.FulfillmentOptionId),
		Total:             total,
		Currency:          snapshot.Currency,
		Provider:          token.Provider,
		PaymentMethodID:   paymentMethodID,
	}
	err := s.call(ctx, "order placement", func(ctx context.Context) error {
		err := s.orders.PlaceOrder(ctx, order)
		if errors.Is(err, ErrPaymentDeclined) {
			return acp.NewPaymentDeclinedError("payment was declined")
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}

	paymentStatus := s.capture(ctx, capture.Order{
		ID:                orderID,
		CheckoutSessionID: session.ID,
		Amount:            total,
		Currency:          snapshot.Currency,
		PaymentMethodID:   paymentMethodID,
	}, token)

	permalink := s.baseURL + "/account/order/" + orderID
	snapshot.Status = acp.CheckoutSessionStatusCompleted
	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.store.Complete(writeCtx, session.ID, token.ID, Completion{
		OrderID:       orderID,
		PermalinkURL:  permalink,
		PaymentStatus: paymentStatus,
		Snapshot:      snapshot,
		CompletedAt:   s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("checkout session completion write failed",
			zap.String("checkout_session_id", session.ID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil, true, acp.NewProcessingError("unable to record checkout completion")
	}

	s.logger.Info("checkout session completed",
		zap.String("checkout_session_id", session.ID),
		zap.String("order_id", orderID),
		zap.String("provider", token.Provider),
		zap.String("payment_status", string(paymentStatus)),
	)
	s.notify(ctx, acp.OrderCreate{
		Type:              acp.EventDataTypeOrder,
		CheckoutSessionID: session.ID,
		PermalinkURL:      permalink,
		Status:            acp.OrderStatusCreated,
		Refunds:           []acp.Refund{},
	})

	return &acp.SessionWithOrder{
		CheckoutSession: snapshot,
		Order: acp.Order{
			ID:                orderID,
			CheckoutSessionId: session.ID,
			PermalinkUrl:      permalink,
		},
	}, true, nil
}

// resolveToken loads the token and checks it can pay for session. The
// provider always comes from the token.
func (s *Service) resolveToken(ctx context.Context, session *Session, id string) (*vault.Token, error) {
	token, err := s.vault.Resolve(ctx, id)
	switch {
	case errors.Is(err, vault.ErrTokenNotFound):
		return nil, invalidToken("payment token not found")
	case err != nil:
		s.logger.Error("vault resolve failed", zap.Error(err))
		return nil, acp.NewProcessingError("unable to resolve payment token")
	}

	if token.CheckoutSessionID != "" && token.CheckoutSessionID != session.ID {
		return nil, invalidToken("payment token is bound to a different checkout session")
	}
	if !token.Valid(s.now()) {
		return nil, expiredToken("payment token has expired or was already used")
	}
	if token.Currency != "" && !strings.EqualFold(token.Currency, session.Snapshot.Currency) {
		return nil, invalidToken("payment token currency does not match the checkout session")
	}
	total := grandTotal(session.Snapshot)
	if total <= 0 {
		return nil, invalidState(http.StatusBadRequest, "checkout total must be positive")
	}
	if token.MaxAmount > 0 && total > token.MaxAmount {
		return nil, invalidToken("checkout total exceeds the payment token allowance")
	}
	return token, nil
}

func (s *Service) capture(ctx context.Context, order capture.Order, token *vault.Token) capture.Status {
	var result capture.Result
	err := s.call(ctx, "payment capture", func(ctx context.Context) error {
		var err error
		result, err = s.capturer.Capture(ctx, order, *token)
		return err
	})
	if err != nil {
		s.logger.Warn("payment capture failed",
			zap.String("order_id", order.ID),
			zap.String("provider", token.Provider),
			zap.Error(err),
		)
		return capture.StatusFailed
	}
	if result.Status == "" {
		return capture.StatusPending
	}
	return result.Status
}

// NotifyOrderUpdate emits an order_update webhook for a completed session.
// Unlike completion, delivery errors are returned to the caller.
func (s *Service) NotifyOrderUpdate(ctx context.Context, sessionID string, status acp.OrderStatus, refunds []acp.Refund) error {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status() != acp.CheckoutSessionStatusCompleted {
		return invalidState(http.StatusBadRequest, "checkout session has no order")
	}
	if s.notifier == nil {
		return nil
	}
	if refunds == nil {
		refunds = []acp.Refund{}
	}
	return s.notifier.Send(ctx, acp.OrderUpdate{
		Type:              acp.EventDataTypeOrder,
		CheckoutSessionID: session.ID,
		PermalinkURL:      session.PermalinkURL,
		Status:            status,
		Refunds:           refunds,
	})
}

// notify delivers event in the background; failures are logged only.
func (s *Service) notify(ctx context.Context, event acp.EventData) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.notifier.Send(ctx, event); err != nil {
			s.logger.Warn("order webhook delivery failed", zap.Error(err))
		}
	}()
}

func terminalError(status acp.CheckoutSessionStatus) error {
	switch status {
	case acp.CheckoutSessionStatusCompleted:
		return acp.NewInvalidRequestCodeError(acp.AlreadyCompleted, "checkout session is already completed")
	case acp.CheckoutSessionStatusCanceled:
		return acp.NewInvalidRequestCodeError(acp.SessionCanceled, "checkout session has been canceled")
	}
	return nil
}

func invalidToken(message string) *acp.Error {
	return acp.NewInvalidRequestCodeError(acp.InvalidToken, message, acp.WithOffendingParam("$.payment_data.token"))
}

func expiredToken(message string) *acp.Error {
	return acp.NewInvalidRequestCodeError(acp.ExpiredToken, message, acp.WithOffendingParam("$.payment_data.token"))
}
