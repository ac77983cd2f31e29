package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/furniture-store/internal/notify"
	"github.com/vasiliy-maslov/furniture-store/internal/payment/momo"
)

const ipnDedupeTTL = 24 * time.Hour

// webhook outcomes, used as metric labels
const (
	ipnOutcomePaid        = "paid"
	ipnOutcomeFailed      = "failed"
	ipnOutcomeDuplicate   = "duplicate"
	ipnOutcomeRejected    = "rejected"
	ipnOutcomeExpired     = "expired"
	ipnOutcomeNotFound    = "not_found"
	ipnOutcomeIgnored     = "ignored"
	ipnOutcomeServerError = "error"
)

// HandleMomoIPN turns a MoMo webhook into at most one order transition.
// It returns an acknowledgment for every delivery it accepts, including
// payment failures and repeats; partner, signature and amount problems come
// back as errors with no state change.
func (s *service) HandleMomoIPN(ctx context.Context, n momo.IPN) (*momo.Ack, error) {
	ack, outcome, err := s.handleMomoIPN(ctx, n)
	s.metrics.IPN(outcome)
	return ack, err
}

func (s *service) handleMomoIPN(ctx context.Context, n momo.IPN) (*momo.Ack, string, error) {
	logger := log.With().
		Str("provider_order_id", n.OrderID).
		Str("request_id", n.RequestID).
		Int("result_code", n.ResultCode).
		Logger()

	if err := s.gateway.VerifyIPN(n); err != nil {
		logger.Warn().Err(err).Msg("service: momo webhook rejected")
		return nil, ipnOutcomeRejected, err
	}

	dedupeKey := ""
	if s.cache != nil {
		dedupeKey = s.cache.GenerateKey("momo_ipn", n.OrderID+":"+strconv.Itoa(n.ResultCode))
		seen, err := s.cache.Get(ctx, dedupeKey)
		if err != nil {
			logger.Warn().Err(err).Msg("service: webhook dedupe lookup failed, processing anyway")
		} else if seen != "" {
			logger.Info().Msg("service: duplicate momo webhook acknowledged from cache")
			ack := momo.NewAck(n, "Already processed")
			return &ack, ipnOutcomeDuplicate, nil
		}
	}

	o, err := s.resolveWebhookOrder(ctx, n)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			logger.Warn().Msg("service: momo webhook for unknown order")
			return nil, ipnOutcomeNotFound, err
		}
		return nil, ipnOutcomeServerError, err
	}
	logger = logger.With().Stringer("order_id", o.ID).Logger()

	amount, err := n.AmountVND()
	if err != nil || amount != o.Total {
		logger.Warn().Str("reported_amount", n.Amount.String()).Int64("order_total", o.Total).Msg("service: momo webhook amount mismatch")
		return nil, ipnOutcomeRejected, fmt.Errorf("%w: reported %s, expected %d", ErrAmountMismatch, n.Amount, o.Total)
	}

	ack, outcome, err := s.applyWebhook(ctx, o, n)
	if err != nil {
		return nil, outcome, err
	}

	if dedupeKey != "" {
		if _, err := s.cache.SetNX(ctx, dedupeKey, o.ID.String(), ipnDedupeTTL); err != nil {
			logger.Warn().Err(err).Msg("service: failed to record webhook in dedupe cache")
		}
	}
	return ack, outcome, nil
}

// applyWebhook decides the transition for an authenticated, amount-checked
// delivery. A lost compare-and-swap re-reads the order and decides again.
func (s *service) applyWebhook(ctx context.Context, o *Order, n momo.IPN) (*momo.Ack, string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if o.SweptByTimeout() {
			// Money may have been captured for an order we already gave up on.
			log.Error().
				Stringer("order_id", o.ID).
				Str("order_number", o.OrderNumber).
				Str("trans_id", n.TransID.String()).
				Str("amount", n.Amount.String()).
				Int("result_code", n.ResultCode).
				Msg("service: momo webhook for order cancelled by timeout sweep rejected")
			return nil, ipnOutcomeExpired, ErrOrderExpired
		}

		if o.PaymentStatus == PaymentPaid {
			log.Info().Stringer("order_id", o.ID).Msg("service: momo webhook for already paid order, nothing to do")
			ack := momo.NewAck(n, "Order already paid")
			return &ack, ipnOutcomeDuplicate, nil
		}

		if o.Status != StatusPending {
			if n.Succeeded() {
				log.Error().
					Stringer("order_id", o.ID).
					Stringer("status", o.Status).
					Str("trans_id", n.TransID.String()).
					Msg("service: successful momo payment for an order that is no longer pending")
			}
			ack := momo.NewAck(n, "Order is no longer pending")
			return &ack, ipnOutcomeIgnored, nil
		}

		if n.Succeeded() {
			swapped, err := s.orderRepo.MarkPaid(context.WithoutCancel(ctx), o.ID, s.now().UTC())
			if err != nil {
				log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to mark order paid from webhook")
				return nil, ipnOutcomeServerError, fmt.Errorf("service: failed to mark order paid: %w", err)
			}
			if swapped {
				log.Info().Stringer("order_id", o.ID).Str("order_number", o.OrderNumber).Str("trans_id", n.TransID.String()).Msg("service: order paid via momo")
				s.notify(ctx, notify.EventOrderPaid, o, "")
				ack := momo.NewAck(n, "Payment confirmed")
				return &ack, ipnOutcomePaid, nil
			}
		} else {
			reason := fmt.Sprintf("MoMo payment failed: %s (code %d)", n.Message, n.ResultCode)
			swapped, err := s.cancel(context.WithoutCancel(ctx), o, reason, cancelSourcePaymentFailed)
			if err != nil {
				return nil, ipnOutcomeServerError, err
			}
			if swapped {
				ack := momo.NewAck(n, "Payment failure recorded")
				return &ack, ipnOutcomeFailed, nil
			}
		}

		reloaded, err := s.reload(ctx, o.ID)
		if err != nil {
			return nil, ipnOutcomeServerError, err
		}
		o = reloaded
	}

	log.Error().Stringer("order_id", o.ID).Msg("service: momo webhook could not settle order state")
	return nil, ipnOutcomeServerError, fmt.Errorf("service: order %s changed concurrently", o.ID)
}

// resolveWebhookOrder follows extraData back to the order, falling back to
// the order number embedded in the provider order id.
func (s *service) resolveWebhookOrder(ctx context.Context, n momo.IPN) (*Order, error) {
	orderID, err := momo.DecodeExtraData(n.ExtraData)
	if err == nil {
		return s.reload(ctx, orderID)
	}

	number := momo.OrderNumberFromProviderID(n.OrderID)
	log.Warn().Err(err).Str("order_number", number).Msg("service: extraData unusable, looking order up by number")

	o, err := s.orderRepo.GetOrderByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Str("order_number", number).Msg("service: failed to fetch order by number")
		return nil, fmt.Errorf("service: failed to fetch order by number: %w", err)
	}
	return o, nil
}

// SweepExpiredMomo cancels MoMo orders still unpaid after timeout. Running
// it again finds nothing new.
func (s *service) SweepExpiredMomo(ctx context.Context, timeout time.Duration) (*SweepResult, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	cutoff := s.now().UTC().Add(-timeout)
	ids, err := s.orderRepo.ListExpiredMomo(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Time("cutoff", cutoff).Msg("service: failed to list expired momo orders")
		return nil, fmt.Errorf("service: failed to list expired momo orders: %w", err)
	}

	result := &SweepResult{TimeoutMinutes: timeout.Minutes()}
	for _, id := range ids {
		o, err := s.reload(ctx, id)
		if err != nil {
			log.Error().Err(err).Stringer("order_id", id).Msg("service: sweep could not load order, skipping")
			continue
		}

		swapped, err := s.cancel(ctx, o, TimeoutCancelReason, cancelSourceTimeout)
		if err != nil {
			log.Error().Err(err).Stringer("order_id", id).Msg("service: sweep could not cancel order, skipping")
			continue
		}
		if swapped {
			result.CancelledCount++
		}
	}

	s.metrics.SweepCancelled(result.CancelledCount)
	log.Info().Int("candidates", len(ids)).Int("cancelled", result.CancelledCount).Dur("timeout", timeout).Msg("service: momo timeout sweep finished")
	return result, nil
}
