package internal

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": PublicMessage(err)})
}

func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// ------------------- Submissions -------------------

type submissionResponse struct {
	Submission
	IsFirstSubmission   bool   `json:"isFirstSubmission"`
	RequiresPayment     bool   `json:"requiresPayment"`
	PaymentClientSecret string `json:"payment_client_secret,omitempty"`
}

// POST /api/open-calls/:id/submit
func Submit(adm *Admitter, db Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := uid(c)

		var req struct {
			UserID    string         `json:"userId"`
			ArtworkID string         `json:"artwork_id"`
			MediaURL  string         `json:"media_url"`
			Bio       string         `json:"bio"`
			Responses map[string]any `json:"responses"`
			PaymentID string         `json:"payment_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
			return
		}
		if req.UserID != "" && req.UserID != caller {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		res, err := adm.Admit(c.Request.Context(), SubmitRequest{
			OpenCallID: c.Param("id"),
			UserID:     caller,
			ArtworkID:  req.ArtworkID,
			MediaURL:   req.MediaURL,
			Bio:        req.Bio,
			Responses:  req.Responses,
			PaymentID:  req.PaymentID,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		} else {
			logAction(db, &caller, "submit_open_call",
				"open_call_id="+res.Submission.OpenCallID+" ordinal="+strconv.Itoa(res.Submission.Ordinal))
		}
		c.JSON(status, submissionResponse{
			Submission:          res.Submission,
			IsFirstSubmission:   res.IsFirstSubmission,
			RequiresPayment:     res.RequiresPayment,
			PaymentClientSecret: res.ClientSecret,
		})
	}
}

// ------------------- Open calls -------------------

// GET /api/open-calls
func ListOpenCalls(oc *OpenCalls) gin.HandlerFunc {
	return func(c *gin.Context) {
		calls, err := oc.ListActive(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, calls)
	}
}

// GET /api/open-calls/:id (owner also gets the submissions)
func GetOpenCall(oc *OpenCalls) gin.HandlerFunc {
	return func(c *gin.Context) {
		call, subs, err := oc.Get(c.Request.Context(), c.Param("id"), uid(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"openCall": call, "submissions": subs})
	}
}

// POST /api/open-calls
func ProposeOpenCall(oc *OpenCalls, db Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := uid(c)
		var req struct {
			Title              string            `json:"title"`
			Description        string            `json:"description"`
			OrganizationName   string            `json:"organization_name"`
			OrganizationLinks  map[string]string `json:"organization_links"`
			BannerImageURL     string            `json:"banner_image_url"`
			SubmissionDeadline string            `json:"submission_deadline"`
			FieldRequirements  map[string]any    `json:"field_requirements"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
			return
		}
		call, err := oc.Propose(c.Request.Context(), ProposeRequest{
			UserID:             caller,
			Title:              req.Title,
			Description:        req.Description,
			OrganizationName:   req.OrganizationName,
			OrganizationLinks:  req.OrganizationLinks,
			BannerImageURL:     req.BannerImageURL,
			SubmissionDeadline: req.SubmissionDeadline,
			FieldRequirements:  req.FieldRequirements,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		logAction(db, &caller, "propose_open_call", "open_call_id="+call.ID)
		c.JSON(http.StatusCreated, call)
	}
}

// ------------------- Admin: open calls -------------------

func AdminPendingOpenCalls(oc *OpenCalls) gin.HandlerFunc {
	return func(c *gin.Context) {
		calls, err := oc.Pending(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, calls)
	}
}

func AdminApproveOpenCall(oc *OpenCalls, db Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := uid(c)
		call, err := oc.Approve(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		logAction(db, &actor, "admin_approve_open_call", "open_call_id="+call.ID)
		c.JSON(http.StatusOK, call)
	}
}

func AdminUpdateOpenCall(oc *OpenCalls, db Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := uid(c)
		var req struct {
			IsApproved *bool           `json:"is_approved"`
			Status     *OpenCallStatus `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
			return
		}
		call, err := oc.Update(c.Request.Context(), c.Param("id"), OpenCallPatch{
			IsApproved: req.IsApproved,
			Status:     req.Status,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		logAction(db, &actor, "admin_update_open_call", "open_call_id="+call.ID+" status="+string(call.Status))
		c.JSON(http.StatusOK, call)
	}
}
