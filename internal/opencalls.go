package internal

import (
	"context"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// OpenCalls serves the open-call listing and the proposal/approval flow.
type OpenCalls struct {
	store Store
	cache *ListingCache
	now   func() time.Time
}

func NewOpenCalls(store Store, cache *ListingCache) *OpenCalls {
	return &OpenCalls{store: store, cache: cache, now: time.Now}
}

func (o *OpenCalls) ListActive(ctx context.Context) ([]OpenCall, error) {
	if calls, ok := o.cache.Get(ctx); ok {
		return calls, nil
	}
	calls, err := o.list(ctx, StatusActive, "submission_deadline ASC")
	if err != nil {
		return nil, err
	}
	o.cache.Set(ctx, calls)
	return calls, nil
}

func (o *OpenCalls) Pending(ctx context.Context) ([]OpenCall, error) {
	return o.list(ctx, StatusPendingApproval, "created_at DESC")
}

func (o *OpenCalls) list(ctx context.Context, status OpenCallStatus, order string) ([]OpenCall, error) {
	rows, err := o.store.Select(ctx, tableOpenCalls, sq.Eq{"status": string(status)}, order)
	if err != nil {
		return nil, persistence("list open calls", err)
	}
	out := make([]OpenCall, 0, len(rows))
	for _, r := range rows {
		oc, err := openCallFromRow(r)
		if err != nil {
			return nil, persistence("decode open call", err)
		}
		out = append(out, oc)
	}
	return out, nil
}

// Get loads one open call. Submissions are returned only when viewerID owns it.
func (o *OpenCalls) Get(ctx context.Context, id, viewerID string) (OpenCall, []Submission, error) {
	rows, err := o.store.Select(ctx, tableOpenCalls, sq.Eq{"id": id})
	if err != nil {
		return OpenCall{}, nil, persistence("load open call", err)
	}
	if len(rows) == 0 {
		return OpenCall{}, nil, newError(KindNotFound, "open call not found")
	}
	oc, err := openCallFromRow(rows[0])
	if err != nil {
		return OpenCall{}, nil, persistence("decode open call", err)
	}

	subs := []Submission{}
	if viewerID == "" || viewerID != oc.UserID {
		return oc, subs, nil
	}
	rows, err = o.store.Select(ctx, tableSubmissions, sq.Eq{"open_call_id": id}, "created_at ASC")
	if err != nil {
		return OpenCall{}, nil, persistence("load submissions", err)
	}
	for _, r := range rows {
		s, err := submissionFromRow(r)
		if err != nil {
			return OpenCall{}, nil, persistence("decode submission", err)
		}
		subs = append(subs, s)
	}
	return oc, subs, nil
}

type ProposeRequest struct {
	UserID             string
	Title              string
	Description        string
	OrganizationName   string
	OrganizationLinks  map[string]string
	BannerImageURL     string
	SubmissionDeadline string
	FieldRequirements  map[string]any
}

// Propose stores a new open call awaiting admin approval.
func (o *OpenCalls) Propose(ctx context.Context, req ProposeRequest) (OpenCall, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return OpenCall{}, newError(KindUnauthorized, "unauthorized")
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Description) == "" ||
		strings.TrimSpace(req.OrganizationName) == "" || strings.TrimSpace(req.SubmissionDeadline) == "" {
		return OpenCall{}, newError(KindValidation, "missing required fields")
	}
	deadline, err := time.Parse(time.RFC3339, req.SubmissionDeadline)
	if err != nil {
		return OpenCall{}, newError(KindValidation, "submission_deadline must be RFC 3339")
	}

	links := req.OrganizationLinks
	if links == nil {
		links = map[string]string{}
	}
	fields := req.FieldRequirements
	if fields == nil {
		fields = map[string]any{}
	}
	linksJSON, err := jsonColumn(links)
	if err != nil {
		return OpenCall{}, newError(KindValidation, "organization_links must be an object")
	}
	fieldsJSON, err := jsonColumn(fields)
	if err != nil {
		return OpenCall{}, newError(KindValidation, "field_requirements must be an object")
	}

	now := o.now().UTC()
	row, err := o.store.Insert(ctx, tableOpenCalls, Row{
		"id":                  uuid.NewString(),
		"user_id":             req.UserID,
		"title":               strings.TrimSpace(req.Title),
		"description":         strings.TrimSpace(req.Description),
		"organization_name":   strings.TrimSpace(req.OrganizationName),
		"organization_links":  linksJSON,
		"banner_image_url":    req.BannerImageURL,
		"submission_deadline": deadline.UTC(),
		"created_at":          now,
		"updated_at":          now,
		"is_approved":         false,
		"field_requirements":  fieldsJSON,
		"status":              string(StatusPendingApproval),
	})
	if err != nil {
		return OpenCall{}, persistence("create open call", err)
	}
	oc, err := openCallFromRow(row)
	if err != nil {
		return OpenCall{}, persistence("decode open call", err)
	}
	return oc, nil
}

// OpenCallPatch is a partial update; nil fields are left untouched.
type OpenCallPatch struct {
	IsApproved *bool
	Status     *OpenCallStatus
}

func (o *OpenCalls) Approve(ctx context.Context, id string) (OpenCall, error) {
	approved, active := true, StatusActive
	return o.Update(ctx, id, OpenCallPatch{IsApproved: &approved, Status: &active})
}

func (o *OpenCalls) Update(ctx context.Context, id string, patch OpenCallPatch) (OpenCall, error) {
	set := Row{"updated_at": o.now().UTC()}
	if patch.IsApproved != nil {
		set["is_approved"] = *patch.IsApproved
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return OpenCall{}, newError(KindValidation, "unknown status")
		}
		set["status"] = string(*patch.Status)
	}

	row, err := o.store.Update(ctx, tableOpenCalls, sq.Eq{"id": id}, set)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return OpenCall{}, newError(KindNotFound, "open call not found")
		}
		return OpenCall{}, persistence("update open call", err)
	}
	o.cache.Invalidate(ctx)
	oc, err := openCallFromRow(row)
	if err != nil {
		return OpenCall{}, persistence("decode open call", err)
	}
	return oc, nil
}
