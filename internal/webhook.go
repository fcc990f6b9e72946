package internal

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	sq "github.com/Masterminds/squirrel"
	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const maxWebhookBody = 64 << 10

// PaymentConfirmations settles the payment status of paid submissions.
// Pending submissions move to succeeded or failed. A failed submission can
// still move to succeeded, since a cancelled charge may have been paid first;
// it takes back a free slot. Succeeded is final.
type PaymentConfirmations struct {
	store Store
}

func NewPaymentConfirmations(store Store) *PaymentConfirmations {
	return &PaymentConfirmations{store: store}
}

func canSettle(from, to PaymentStatus) bool {
	switch from {
	case PaymentPending:
		return to == PaymentSucceeded || to == PaymentFailed
	case PaymentFailed:
		return to == PaymentSucceeded
	}
	return false
}

func (p *PaymentConfirmations) Confirm(ctx context.Context, paymentID string, status PaymentStatus) (Submission, error) {
	if paymentID == "" {
		return Submission{}, newError(KindValidation, "payment id required")
	}
	if status != PaymentSucceeded && status != PaymentFailed {
		return Submission{}, newError(KindValidation, "status must be succeeded or failed")
	}

	cur, err := p.load(ctx, p.store, paymentID)
	if err != nil {
		return Submission{}, err
	}
	if !canSettle(cur.PaymentStatus, status) {
		return cur, nil
	}

	var out Submission
	err = p.store.WithinTx(ctx, admissionLockKey(cur.OpenCallID, cur.UserID), func(tx Store) error {
		cur, err := p.load(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if !canSettle(cur.PaymentStatus, status) {
			out = cur
			return nil
		}

		patch := Row{"payment_status": string(status)}
		if cur.PaymentStatus == PaymentFailed {
			taken, _, err := slots(ctx, tx, cur.OpenCallID, cur.UserID)
			if err != nil {
				return err
			}
			if taken[int64(cur.Ordinal)] {
				ordinal, ok := lowestFree(taken)
				if !ok {
					return newError(KindConflict, "payment succeeded but every submission slot is taken")
				}
				patch["ordinal"] = ordinal
			}
		}

		row, err := tx.Update(ctx, tableSubmissions,
			sq.Eq{"payment_id": paymentID, "payment_status": string(cur.PaymentStatus)}, patch)
		if err != nil {
			return persistence("confirm payment", err)
		}
		out, err = decodeSubmission(row)
		return err
	})
	if err != nil {
		return Submission{}, persistence("confirm payment", err)
	}
	return out, nil
}

func (p *PaymentConfirmations) load(ctx context.Context, s Store, paymentID string) (Submission, error) {
	rows, err := s.Select(ctx, tableSubmissions, sq.Eq{"payment_id": paymentID})
	if err != nil {
		return Submission{}, persistence("load submission", err)
	}
	if len(rows) == 0 {
		return Submission{}, newError(KindNotFound, "no submission for payment")
	}
	return decodeSubmission(rows[0])
}

func decodeSubmission(r Row) (Submission, error) {
	s, err := submissionFromRow(r)
	if err != nil {
		return Submission{}, persistence("decode submission", err)
	}
	return s, nil
}

// paymentStatusForEvent maps the final PaymentIntent events. A
// payment_failed attempt leaves the intent payable, so the row stays pending.
func paymentStatusForEvent(eventType string) (PaymentStatus, bool) {
	switch eventType {
	case "payment_intent.succeeded":
		return PaymentSucceeded, true
	case "payment_intent.canceled":
		return PaymentFailed, true
	}
	return "", false
}

// StripeWebhook verifies the Stripe signature and settles the matching submission.
func StripeWebhook(confirm *PaymentConfirmations, db Store, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhooks not configured"})
			return
		}
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad body"})
			return
		}
		event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), secret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad signature"})
			return
		}

		status, ok := paymentStatusForEvent(string(event.Type))
		if !ok {
			c.JSON(http.StatusOK, gin.H{"ok": true, "ignored": true})
			return
		}
		var pi stripe.PaymentIntent
		if event.Data == nil || json.Unmarshal(event.Data.Raw, &pi) != nil || pi.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad payment intent"})
			return
		}

		s, err := confirm.Confirm(c.Request.Context(), pi.ID, status)
		if err != nil {
			respondError(c, err)
			return
		}
		logAction(db, &s.UserID, "payment_"+string(s.PaymentStatus), "submission_id="+s.ID+" payment_id="+pi.ID)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// AdminConfirmPayment settles a payment by hand, for references the webhook
// never reported.
func AdminConfirmPayment(confirm *PaymentConfirmations, db Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := uid(c)
		var req struct {
			Status PaymentStatus `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
			return
		}
		s, err := confirm.Confirm(c.Request.Context(), c.Param("id"), req.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		if s.PaymentStatus != req.Status {
			log.Printf("payment %s already settled as %s", c.Param("id"), s.PaymentStatus)
		}
		logAction(db, &actor, "admin_confirm_payment", "payment_id="+c.Param("id")+" status="+string(req.Status))
		c.JSON(http.StatusOK, s)
	}
}
