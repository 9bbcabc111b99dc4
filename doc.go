// Package acp serves the Agentic Commerce Protocol checkout and delegated
// payment APIs over net/http.
//
// # Checkout
//
// Use [NewCheckoutHandler] with a [CheckoutProvider] to expose the
// checkout_sessions routes. The checkout package ships an engine that
// implements the provider with a strict session state machine.
//
// # Delegated Payment
//
// [NewDelegatedPaymentHandler] accepts PSP-issued card credentials, validates
// them, and registers them with a [DelegatedPaymentProvider] such as the
// vault package. Tokens are scoped by an allowance and consumed once.
//
// # Compliance gate
//
// Every route passes the same gate, in this order:
//
//   - API-Version must equal [APIVersion].
//   - Signature and Timestamp, when both are present and a verifier is set
//     with [WithSignatureVerifier], must match an HMAC over the method, path,
//     timestamp and raw body within the allowed clock skew.
//   - Mutating requests with an Idempotency-Key are deduplicated through the
//     store given to [WithIdempotencyStore]: identical retries replay the first
//     response byte for byte, and a different body under the same key is a 409.
//
// Responses echo Idempotency-Key and Request-Id, and errors always use the
// [Error] JSON shape.
package acp
