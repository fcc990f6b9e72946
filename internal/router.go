package internal

import (
	"github.com/gin-gonic/gin"
)

type Deps struct {
	Store         Store
	Admitter      *Admitter
	OpenCalls     *OpenCalls
	Confirmations *PaymentConfirmations

	JWTSecret     string
	CookieName    string
	WebhookSecret string
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.Default()
	auth := Auth(d.JWTSecret, d.CookieName)

	r.GET("/healthz", Health())
	r.POST("/webhooks/stripe", StripeWebhook(d.Confirmations, d.Store, d.WebhookSecret))

	api := r.Group("/api")
	{
		api.GET("/open-calls", ListOpenCalls(d.OpenCalls))
		api.GET("/open-calls/:id", OptionalAuth(d.JWTSecret, d.CookieName), GetOpenCall(d.OpenCalls))
		api.POST("/open-calls", auth, ProposeOpenCall(d.OpenCalls, d.Store))
		api.POST("/open-calls/:id/submit", auth, Submit(d.Admitter, d.Store))

		admin := api.Group("/admin", auth, RequireAdmin(d.Store))
		{
			admin.GET("/open-calls/pending", AdminPendingOpenCalls(d.OpenCalls))
			admin.PUT("/open-calls/:id/approve", AdminApproveOpenCall(d.OpenCalls, d.Store))
			admin.PUT("/open-calls/:id", AdminUpdateOpenCall(d.OpenCalls, d.Store))
			admin.POST("/payments/:id", AdminConfirmPayment(d.Confirmations, d.Store))
		}
	}
	return r
}
