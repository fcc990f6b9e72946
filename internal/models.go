package internal

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	tableOpenCalls   = "open_calls"
	tableSubmissions = "submissions"
	tableUsers       = "users"
	tableLogs        = "logs"
)

type OpenCallStatus string

const (
	StatusDraft           OpenCallStatus = "draft"
	StatusPendingApproval OpenCallStatus = "pending_approval"
	StatusActive          OpenCallStatus = "active"
	StatusClosed          OpenCallStatus = "closed"
)

func (s OpenCallStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusActive, StatusClosed:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "not_required"
	PaymentPending     PaymentStatus = "pending"
	PaymentSucceeded   PaymentStatus = "succeeded"
	PaymentFailed      PaymentStatus = "failed"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

type OpenCall struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	OrganizationName   string            `json:"organization_name"`
	OrganizationLinks  map[string]string `json:"organization_links"`
	BannerImageURL     string            `json:"banner_image_url"`
	SubmissionDeadline time.Time         `json:"submission_deadline"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	IsApproved         bool              `json:"is_approved"`
	FieldRequirements  map[string]any    `json:"field_requirements"`
	Status             OpenCallStatus    `json:"status"`
}

type Submission struct {
	ID            string         `json:"id"`
	OpenCallID    string         `json:"open_call_id"`
	UserID        string         `json:"user_id"`
	ArtworkID     *string        `json:"artwork_id"`
	MediaURL      *string        `json:"media_url"`
	Bio           string         `json:"bio"`
	Responses     map[string]any `json:"responses"`
	CreatedAt     time.Time      `json:"created_at"`
	IsSelected    bool           `json:"is_selected"`
	PaymentID     *string        `json:"payment_id"`
	PaymentStatus PaymentStatus  `json:"payment_status"`
	Ordinal       int            `json:"ordinal"`
}

/* ===================== ROW MAPPING ===================== */

func openCallFromRow(r Row) (OpenCall, error) {
	var oc OpenCall
	var err error
	oc.ID = r.str("id")
	oc.UserID = r.str("user_id")
	oc.Title = r.str("title")
	oc.Description = r.str("description")
	oc.OrganizationName = r.str("organization_name")
	oc.BannerImageURL = r.str("banner_image_url")
	oc.IsApproved = r.boolean("is_approved")
	oc.Status = OpenCallStatus(r.str("status"))
	if oc.SubmissionDeadline, err = r.time("submission_deadline"); err != nil {
		return OpenCall{}, err
	}
	if oc.CreatedAt, err = r.time("created_at"); err != nil {
		return OpenCall{}, err
	}
	if oc.UpdatedAt, err = r.time("updated_at"); err != nil {
		return OpenCall{}, err
	}
	oc.OrganizationLinks = map[string]string{}
	if err := r.json("organization_links", &oc.OrganizationLinks); err != nil {
		return OpenCall{}, err
	}
	oc.FieldRequirements = map[string]any{}
	if err := r.json("field_requirements", &oc.FieldRequirements); err != nil {
		return OpenCall{}, err
	}
	return oc, nil
}

func submissionFromRow(r Row) (Submission, error) {
	var s Submission
	var err error
	s.ID = r.str("id")
	s.OpenCallID = r.str("open_call_id")
	s.UserID = r.str("user_id")
	s.ArtworkID = r.optStr("artwork_id")
	s.MediaURL = r.optStr("media_url")
	s.Bio = r.str("bio")
	s.IsSelected = r.boolean("is_selected")
	s.PaymentID = r.optStr("payment_id")
	s.PaymentStatus = PaymentStatus(r.str("payment_status"))
	s.Ordinal = int(r.integer("ordinal"))
	if s.CreatedAt, err = r.time("created_at"); err != nil {
		return Submission{}, err
	}
	s.Responses = map[string]any{}
	if err := r.json("responses", &s.Responses); err != nil {
		return Submission{}, err
	}
	return s, nil
}

func userFromRow(r Row) User {
	return User{
		ID:       r.str("id"),
		Username: r.str("username"),
		IsAdmin:  r.boolean("is_admin"),
	}
}

// jsonColumn encodes a map for a json/jsonb (postgres) or TEXT (sqlite) column.
func jsonColumn(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return b, nil
}
