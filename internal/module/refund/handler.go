package refund

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hmcts/refunds-api/internal/client"
	"github.com/hmcts/refunds-api/internal/shared/middleware"
)

// Handler handles HTTP requests for refunds.
type Handler struct {
	service *Service
	engine  *ReissueEngine
}

// NewHandler creates a new refund handler.
func NewHandler(service *Service, engine *ReissueEngine) *Handler {
	return &Handler{service: service, engine: engine}
}

// RegisterRoutes registers refund routes; all of them require authentication.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/refund", h.Submit)
	r.PATCH("/refund/:reference/action/:event", h.Review)
	r.PATCH("/refund/:reference", h.ProviderStatusUpdate)
	r.PATCH("/refund/resubmit/:reference", h.Resubmit)
	r.POST("/refund/:reference/reissue", h.Reissue)
	r.GET("/refund/:reference/actions", h.RetrieveActions)
	r.PUT("/refund/:reference/contact-details", h.UpdateContactDetails)
	r.GET("/refund/reasons", h.ListReasons)

	r.GET("/refunds", h.List)
	r.GET("/refunds/:reference", h.Get)

	r.PATCH("/payments/:paymentReference/refunds/cancel", h.CancelByPayment)
}

// Submit creates a new refund claim.
//
//	@Summary		Submit a refund
//	@Description	Create a refund claim against a fee of a paid payment
//	@Tags			Refund
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		SubmitRequest	true	"Refund request"
//	@Success		201		{object}	RefundResponse
//	@Failure		400		{object}	map[string]string
//	@Failure		401		{object}	map[string]string
//	@Router			/refund [post]
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	refund, err := h.service.Submit(c.Request.Context(), &req, middleware.GetUserID(c))
	if err != nil {
		handleRefundError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRefundResponse(refund))
}

// Review applies a reviewer decision.
//
//	@Summary		Review a refund
//	@Description	Approve, reject or send back a refund awaiting approval
//	@Tags			Refund
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			reference	path		string			true	"Refund reference"
//	@Param			event		path		string			true	"approve, reject or sendback"
//	@Param			request		body		ReviewRequest	false	"Review details"
//	@Success		200			{object}	RefundResponse
//	@Failure		400			{object}	map[string]string
//	@Failure		404			{object}	map[string]string
//	@Failure		502			{object}	map[string]string
//	@Router			/refund/{reference}/action/{event} [patch]
func (h *Handler) Review(c *gin.Context) {
	// The body is optional; approve needs no payload.
	var req ReviewRequest
	_ = c.ShouldBindJSON(&req)

	refund, err := h.service.Review(
		c.Request.Context(),
		c.Param("reference"),
		RefundEvent(c.Param("event")),
		&req,
		middleware.GetUserID(c),
	)
	if err != nil {
		handleRefundError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRefundResponse(refund))
}

// ProviderStatusUpdate applies a middle office decision.
//
//	@Summary		Provider status update
//	@Description	Middle office callback moving a refund to accepted, rejected or expired
//	@Tags			Refund
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			reference	path		string					true	"Refund reference"
//	@Param			request		body		ProviderUpdateRequest	true	"New status"
//	@Success		200			{object}	RefundResponse
//	@Failure		400			{object}	map[string]string
//	@Failure		404			{object}	map[string]string
//	@Router			/refund/{reference} [patch]
func (h *Handler) ProviderStatusUpdate(c *gin.Context) {
	var req ProviderUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	refund, err := h.service.ProviderStatusUpdate(c.Request.Context(), c.Param("reference"), &req)
	if err != nil {
		handleRefundError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRefundResponse(refund))
}

// Resubmit amends and resubmits a sent-back refund.
//
//	@Summary		Resubmit a refund
//	@Description	Amend amount/reason of a sent-back refund and return it for approval
//	@Tags			Refund
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			reference	path		string			true	"Refund reference"
//	@Param			request		body		ResubmitRequest	true	"Amended refund"
//	@Success		200			{object}	RefundResponse
//	@Failure		400			{object}	map[string]string
//	@Failure		404			{object}	map[string]string
//	@Router			/refund/resubmit/{reference} [patch]
func (h *Handler) Resubmit(c *gin.Context) {
	var req ResubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	refund, err := h.engine.Resubmit(c.Request.Context(), c.Param("reference"), &req, middleware.GetUserID(c))
	if err != nil {
		handleRefundError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRefundResponse(refund))
}

// Reissue closes an expired refund and creates its successor.
//
//	@Summary		Reissue a refund
//	@Description	Close an expired refund and create an approved successor
//	@Tags			Refund
//	@Produce		json
//	@Security		BearerAuth
//	@Param			reference	path		string	true	"Refund reference"
//	@Success		201			{object}	RefundResponse
//	@Failure		400			{object}	map[string]string
//	@Failure		404			{object}	map[string]string
//	@Router			/refund/{reference}/reissue [post]
func (h *Handler) Reissue(c *gin.Context) {
	refund, err := h.engine.Reissue(c.Request.Context(), c.Param("reference"), middleware.GetUserID(c))
	if err != nil {
		handleRefundError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRefundResponse(refund))
}

// RetrieveActions lists the legal next actions for a refund.
//
//	@Summary		Available actions
//	@Description	List the actions currently legal for a refund
//	@Tags			Refund
//	@Produce		json
//	@Security		BearerAuth
//	@Param			reference	path		string	true	"Refund reference"
//	@Success		200			{array}		ActionResponse
//	@Failure		400			{object}	map[string]string
//	@Failure		404			{object}	map[string]string
//	@Router			/refund/{reference}/actions [get]
func (h *Handler) RetrieveActions(c *gin.Context) {
	actions, err := h.service.RetrieveActions(c.Request.Context(), c.Param("reference"))
	if err != nil {
		handleRefundError(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

// List returns refunds matching the query filters.
//
//	@Summary		List refunds
//	@Description	List refunds filtered by status or CCD case number
//	@Tags			Refund
//	@Produce		json
//	@Security		BearerAuth
//	@Param			status	query		string	false	"Filter by status"
//	@Param			ccd		query		string	false	"Filter by CCD case number"
//	@Success		200		{array}		RefundResponse
//	@Router			/refunds [get]
func (h *Handler) List(c *gin.Context) {
	filter := &Filter{
		Status:        RefundStatus(c.Query("status")),
		CcdCaseNumber: c.Query("ccd"),
	}
	refunds, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		handleRefundError(c, err)
		return
	}
	c.JSON(http.StatusOK, refunds)
}

// Get returns one refund with its status history.
//
//	@Summary		Refund detail
//	@Description	Get a refund and its newest-first status history
//	@Tags			Refund
//	@Produce		json
//	@Security		BearerAuth
//	@Param			reference	path		string	true	"Refund reference"
//	@Success		200			{object}	RefundDetailResponse
//	@Failure		404			{object}	map[string]string
//	@Router			/refunds/{reference} [get]
func (h *Handler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), c.Param("reference"))
	if err != nil {
		handleRefundError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// CancelByPayment cancels all cancellable refunds on a payment.
//
//	@Summary		Cancel refunds by payment
//	@Description	Cancel every refund on the payment still in a cancellable state
//	@Tags			Refund
//	@Produce		json
//	@Security		BearerAuth
//	@Param			paymentReference	path		string	true	"Payment reference"
//	@Success		200					{object}	CancelResponse
//	@Failure		400					{object}	map[string]string
//	@Failure		404					{object}	map[string]string
//	@Router			/payments/{paymentReference}/refunds/cancel [patch]
func (h *Handler) CancelByPayment(c *gin.Context) {
	cancelled, err := h.service.CancelByPayment(c.Request.Context(), c.Param("paymentReference"), middleware.GetUserID(c))
	if err != nil {
		handleRefundError(c, err)
		return
	}
	c.JSON(http.StatusOK, CancelResponse{Cancelled: cancelled})
}

// UpdateContactDetails replaces a refund's notification destination.
//
//	@Summary		Update contact details
//	@Description	Replace the notification destination override for a refund
//	@Tags			Refund
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			reference	path		string			true	"Refund reference"
//	@Param			request		body		ContactDetails	true	"Contact details"
//	@Success		200			{object}	RefundResponse
//	@Failure		400			{object}	map[string]string
//	@Failure		404			{object}	map[string]string
//	@Router			/refund/{reference}/contact-details [put]
func (h *Handler) UpdateContactDetails(c *gin.Context) {
	var details ContactDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	refund, err := h.service.UpdateContactDetails(c.Request.Context(), c.Param("reference"), &details, middleware.GetUserID(c))
	if err != nil {
		handleRefundError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRefundResponse(refund))
}

// ListReasons returns the refund reason catalogue.
//
//	@Summary		Refund reasons
//	@Description	List the refund reason catalogue
//	@Tags			Refund
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{array}	ReasonResponse
//	@Router			/refund/reasons [get]
func (h *Handler) ListReasons(c *gin.Context) {
	reasons, err := h.service.ListReasons(c.Request.Context())
	if err != nil {
		handleRefundError(c, err)
		return
	}
	c.JSON(http.StatusOK, reasons)
}

func handleRefundError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRefundNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "refund_not_found", "message": err.Error()})
	case errors.Is(err, ErrActionsExhausted):
		c.JSON(http.StatusBadRequest, gin.H{"error": "actions_exhausted", "message": err.Error()})
	case errors.Is(err, ErrInvalidReissueRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reissue_request", "message": ErrInvalidReissueRequest.Error()})
	case errors.Is(err, ErrInvalidReviewRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_review_request", "message": err.Error()})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, ErrInvalidRefundRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_refund_request", "message": err.Error()})
	case errors.Is(err, ErrActionNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "action_not_found", "message": err.Error()})
	case errors.Is(err, client.ErrUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "collaborator_unavailable", "message": err.Error()})
	default:
		var statusErr *client.StatusError
		if errors.As(err, &statusErr) {
			// A collaborator answered 4xx; reflect it as a client error.
			c.JSON(http.StatusBadRequest, gin.H{"error": "collaborator_rejected", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
