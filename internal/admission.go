package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxSubmissions is the per-user quota for a single open call. The first
// submission is free, the rest are paid.
const MaxSubmissions = 6

const defaultPaymentTimeout = 10 * time.Second

type SubmitRequest struct {
	OpenCallID string
	UserID     string
	ArtworkID  string
	MediaURL   string
	Bio        string
	Responses  map[string]any
	// PaymentID replays an earlier admission that already received this
	// payment reference.
	PaymentID string
}

type Admission struct {
	Submission        Submission
	IsFirstSubmission bool
	RequiresPayment   bool
	ClientSecret      string
	Replayed          bool
}

type Fee struct {
	Amount   int64
	Currency string
}

// Admitter decides whether an open call accepts a submission and persists it.
type Admitter struct {
	store          Store
	payments       PaymentProvider
	fee            Fee
	paymentTimeout time.Duration
	now            func() time.Time
	tracer         trace.Tracer
}

type AdmitterOption func(*Admitter)

// WithPaymentTimeout bounds each payment provider call. The call runs while
// the pair's admission lock is held.
func WithPaymentTimeout(d time.Duration) AdmitterOption {
	return func(a *Admitter) {
		if d > 0 {
			a.paymentTimeout = d
		}
	}
}

func NewAdmitter(store Store, payments PaymentProvider, fee Fee, opts ...AdmitterOption) *Admitter {
	a := &Admitter{
		store:          store,
		payments:       payments,
		fee:            fee,
		paymentTimeout: defaultPaymentTimeout,
		now:            time.Now,
		tracer:         otel.Tracer("mypalette/admission"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (req *SubmitRequest) normalize() {
	req.OpenCallID = strings.TrimSpace(req.OpenCallID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.ArtworkID = strings.TrimSpace(req.ArtworkID)
	req.MediaURL = strings.TrimSpace(req.MediaURL)
	req.PaymentID = strings.TrimSpace(req.PaymentID)
}

func (req SubmitRequest) validate() error {
	if req.UserID == "" {
		return newError(KindUnauthorized, "unauthorized")
	}
	if strings.TrimSpace(req.Bio) == "" {
		return newError(KindValidation, "bio required")
	}
	if (req.ArtworkID == "") == (req.MediaURL == "") {
		return newError(KindValidation, "content reference required")
	}
	return nil
}

// liveSubmissions matches the rows that count toward the quota.
func liveSubmissions(openCallID, userID string) Filters {
	return sq.And{
		sq.Eq{"open_call_id": openCallID, "user_id": userID},
		sq.NotEq{"payment_status": string(PaymentFailed)},
	}
}

func admissionLockKey(openCallID, userID string) string {
	return "submission:" + openCallID + ":" + userID
}

// Admit validates req, classifies it as free, paid or over quota, and inserts
// exactly one submission on success. Nothing is written on failure.
func (a *Admitter) Admit(ctx context.Context, req SubmitRequest) (adm Admission, err error) {
	ctx, span := a.tracer.Start(ctx, "submission.admit")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req.normalize()
	if err := req.validate(); err != nil {
		return Admission{}, err
	}
	span.SetAttributes(
		attribute.String("open_call.id", req.OpenCallID),
		attribute.String("user.id", req.UserID),
	)

	calls, err := a.store.Select(ctx, tableOpenCalls, sq.Eq{"id": req.OpenCallID, "status": string(StatusActive)})
	if err != nil {
		return Admission{}, persistence("load open call", err)
	}
	if len(calls) == 0 {
		return Admission{}, newError(KindNotFound, "open call not found or not active")
	}

	err = a.store.WithinTx(ctx, admissionLockKey(req.OpenCallID, req.UserID), func(tx Store) error {
		if req.PaymentID != "" {
			prior, err := a.replay(ctx, tx, req)
			if err != nil || prior != nil {
				if prior != nil {
					adm = *prior
				}
				return err
			}
		}

		count, err := tx.Count(ctx, tableSubmissions, liveSubmissions(req.OpenCallID, req.UserID))
		if err != nil {
			return persistence("count submissions", err)
		}
		if count >= MaxSubmissions {
			return newError(KindQuotaExceeded, fmt.Sprintf("maximum %d submissions reached", MaxSubmissions))
		}
		ordinal, attempt, err := nextOrdinal(ctx, tx, req.OpenCallID, req.UserID)
		if err != nil {
			return err
		}

		first := count == 0
		row := Row{
			"id":             uuid.NewString(),
			"open_call_id":   req.OpenCallID,
			"user_id":        req.UserID,
			"artwork_id":     nullable(req.ArtworkID),
			"media_url":      nullable(req.MediaURL),
			"bio":            req.Bio,
			"created_at":     a.now().UTC(),
			"is_selected":    false,
			"payment_id":     nil,
			"payment_status": string(PaymentNotRequired),
			"ordinal":        ordinal,
		}
		responses := req.Responses
		if responses == nil {
			responses = map[string]any{}
		}
		if row["responses"], err = jsonColumn(responses); err != nil {
			return newError(KindValidation, "responses must be a JSON object")
		}

		var clientSecret string
		if !first {
			pctx, cancel := context.WithTimeout(ctx, a.paymentTimeout)
			defer cancel()
			ref, err := a.payments.CreatePaymentReference(pctx, PaymentRequest{
				Amount:   a.fee.Amount,
				Currency: a.fee.Currency,
				Metadata: map[string]string{
					"open_call_id": req.OpenCallID,
					"user_id":      req.UserID,
					"ordinal":      fmt.Sprint(ordinal),
				},
				IdempotencyKey: paymentKey(req.OpenCallID, req.UserID, ordinal, attempt),
			})
			if err != nil {
				return paymentError(err)
			}
			row["payment_id"] = ref.ID
			row["payment_status"] = string(PaymentPending)
			clientSecret = ref.ClientSecret
		}

		inserted, err := tx.Insert(ctx, tableSubmissions, row)
		if err != nil {
			return persistence("insert submission", err)
		}
		s, err := submissionFromRow(inserted)
		if err != nil {
			return persistence("decode submission", err)
		}
		adm = Admission{
			Submission:        s,
			IsFirstSubmission: first,
			RequiresPayment:   !first,
			ClientSecret:      clientSecret,
		}
		return nil
	})
	if err != nil {
		return Admission{}, persistence("admit submission", err)
	}
	if adm.Replayed && adm.Submission.PaymentStatus == PaymentPending {
		if err := a.recoverClientSecret(ctx, &adm); err != nil {
			return Admission{}, err
		}
	}
	span.SetAttributes(
		attribute.Int("submission.ordinal", adm.Submission.Ordinal),
		attribute.Bool("submission.requires_payment", adm.RequiresPayment),
	)
	return adm, nil
}

func (a *Admitter) replay(ctx context.Context, tx Store, req SubmitRequest) (*Admission, error) {
	rows, err := tx.Select(ctx, tableSubmissions, sq.Eq{
		"open_call_id": req.OpenCallID,
		"user_id":      req.UserID,
		"payment_id":   req.PaymentID,
	})
	if err != nil {
		return nil, persistence("load prior submission", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	s, err := submissionFromRow(rows[0])
	if err != nil {
		return nil, persistence("decode submission", err)
	}
	return &Admission{
		Submission:        s,
		IsFirstSubmission: false,
		RequiresPayment:   true,
		Replayed:          true,
	}, nil
}

// recoverClientSecret reloads the secret a client needs to finish paying for a
// replayed submission.
func (a *Admitter) recoverClientSecret(ctx context.Context, adm *Admission) error {
	pctx, cancel := context.WithTimeout(ctx, a.paymentTimeout)
	defer cancel()
	ref, err := a.payments.LookupPaymentReference(pctx, *adm.Submission.PaymentID)
	if err != nil {
		return paymentError(err)
	}
	adm.ClientSecret = ref.ClientSecret
	return nil
}

// paymentKey identifies one paid attempt at a slot. A retry after a failed
// insert reuses the key; a slot freed by a failed payment gets a new one.
func paymentKey(openCallID, userID string, ordinal, attempt int) string {
	return fmt.Sprintf("%s:%d:%d", admissionLockKey(openCallID, userID), ordinal, attempt)
}

// slots reports which quota slots of the pair are held by live submissions
// and how many failed payments each slot has seen.
func slots(ctx context.Context, tx Store, openCallID, userID string) (taken map[int64]bool, failed map[int64]int, err error) {
	rows, err := tx.Select(ctx, tableSubmissions, sq.Eq{"open_call_id": openCallID, "user_id": userID})
	if err != nil {
		return nil, nil, persistence("load submission slots", err)
	}
	taken = make(map[int64]bool, len(rows))
	failed = make(map[int64]int, len(rows))
	for _, r := range rows {
		if PaymentStatus(r.str("payment_status")) == PaymentFailed {
			failed[r.integer("ordinal")]++
			continue
		}
		taken[r.integer("ordinal")] = true
	}
	return taken, failed, nil
}

func lowestFree(taken map[int64]bool) (int, bool) {
	for i := int64(1); i <= MaxSubmissions; i++ {
		if !taken[i] {
			return int(i), true
		}
	}
	return 0, false
}

// nextOrdinal returns the lowest slot not held by a live submission and the
// number of failed payments already recorded against it.
func nextOrdinal(ctx context.Context, tx Store, openCallID, userID string) (ordinal, attempt int, err error) {
	taken, failed, err := slots(ctx, tx, openCallID, userID)
	if err != nil {
		return 0, 0, err
	}
	ordinal, ok := lowestFree(taken)
	if !ok {
		return 0, 0, newError(KindQuotaExceeded, fmt.Sprintf("maximum %d submissions reached", MaxSubmissions))
	}
	return ordinal, failed[int64(ordinal)], nil
}

func paymentError(err error) error {
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return wrapError(KindPayment, "payment failed", err)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
