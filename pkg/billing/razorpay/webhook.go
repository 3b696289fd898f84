package razorpay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/rzpsub/pkg/billing"
	"github.com/mihaimyh/rzpsub/pkg/billing/internal"
)

// Webhook processing outcomes, used as the status label of webhook metrics.
const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeOrphaned  = "orphaned"
	outcomeError     = "error"
)

// handleWebhook verifies and reconciles one provider delivery. Once the
// signature is verified the provider always gets 200, whatever happens
// downstream, so a single bad event cannot trigger a redelivery storm.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		internal.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			internal.WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload too large")
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
			return
		}
		internal.WriteError(w, http.StatusBadRequest, billing.ErrInvalidPayload.Code, err.Error())
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	ok, err := VerifySignature(body, r.Header.Get(SignatureHeader), p.webhookSecret)
	if err != nil {
		var be *billing.Error
		if errors.As(err, &be) {
			internal.WriteError(w, http.StatusBadRequest, be.Code, be.Message)
		} else {
			internal.WriteError(w, http.StatusBadRequest, billing.ErrInvalidSignature.Code, err.Error())
		}
		reason := "missing_signature"
		if errors.Is(err, billing.ErrMissingWebhookSecret) {
			reason = "missing_secret"
			p.logger.Error("razorpay webhook secret is not configured")
		} else {
			p.logger.Warn("razorpay webhook rejected", billing.F("error", err))
		}
		p.metrics.RecordWebhookError(providerName, reason)
		return
	}
	if !ok {
		internal.WriteError(w, http.StatusUnauthorized, billing.ErrInvalidSignature.Code, billing.ErrInvalidSignature.Message)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	ev, err := ParseEvent(body)
	if err != nil {
		internal.WriteError(w, http.StatusBadRequest, billing.ErrInvalidPayload.Code, billing.ErrInvalidPayload.Message)
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	outcome := p.Route(r.Context(), ev)

	_ = internal.WriteJSON(w, http.StatusOK, map[string]bool{"success": true}) //nolint:errcheck // provider gone

	p.metrics.RecordWebhookEvent(providerName, ev.Type, outcome)
	p.metrics.RecordWebhookProcessingDuration(providerName, ev.Type, time.Since(start))
}

// Route dispatches a verified event and then notifies the OnEvent observer.
// It never fails: handler errors and panics are logged and reported only
// through the returned outcome.
func (p *Provider) Route(ctx context.Context, ev *Event) string {
	outcome := p.guard(ctx, ev, "reconcile", func() (string, error) {
		switch ev.Kind {
		case EventUnknown:
			p.logger.Debug("ignoring razorpay webhook event", billing.F("event", ev.Type))
			return outcomeIgnored, nil
		default:
			return p.reconcile(ctx, ev)
		}
	})

	p.guard(ctx, ev, "on_event", func() (string, error) {
		if err := p.callbacks.OnEvent(ctx, ev); err != nil {
			p.metrics.RecordCallbackError(providerName, "on_event")
			return outcomeError, err
		}
		return outcomeApplied, nil
	})

	return outcome
}

// guard runs one step of webhook processing, turning errors and panics into
// a logged outcomeError.
func (p *Provider) guard(_ context.Context, ev *Event, step string, fn func() (string, error)) (outcome string) {
	subID := ""
	if s := ev.Subscription(); s != nil {
		subID = s.ID
	}
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("razorpay webhook handler panicked",
				billing.F("event", ev.Type),
				billing.F("step", step),
				billing.F("subscription_id", subID),
				billing.F("error", fmt.Errorf("panic: %v", rec)))
			p.metrics.RecordWebhookError(providerName, "panic")
			outcome = outcomeError
		}
	}()

	outcome, err := fn()
	if err != nil {
		p.logger.Error("razorpay webhook handler failed",
			billing.F("event", ev.Type),
			billing.F("step", step),
			billing.F("subscription_id", subID),
			billing.F("error", err))
		p.metrics.RecordWebhookError(providerName, "processing_error")
		return outcomeError
	}
	return outcome
}
