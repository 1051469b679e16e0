// Package handler is the thin HTTP layer over the workflow services. It
// decodes, delegates, and translates coded errors; business rules live in the
// services.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"healthpass/internal/platform/middleware"
	"healthpass/internal/transport/http/shared"
	"healthpass/internal/workflow/models"
	"healthpass/internal/workflow/ports"
	id "healthpass/pkg/domain"
	dErrors "healthpass/pkg/domain-errors"
)

// SubmissionService covers draft creation through submit.
type SubmissionService interface {
	StartDraft(ctx context.Context, subject string, categoryID id.JobCategoryID) (*models.Application, error)
	UploadDocument(ctx context.Context, subject string, appID id.ApplicationID, docTypeID id.DocumentTypeID, storageKey, filename string) (*models.DocumentUpload, error)
	Submit(ctx context.Context, subject string, appID id.ApplicationID, req models.SubmitRequest) (*models.Application, error)
}

// ReviewService covers the admin review state machine.
type ReviewService interface {
	RejectDocument(ctx context.Context, subject string, appID id.ApplicationID, docTypeID id.DocumentTypeID, req models.RejectDocumentRequest) (*models.ReviewIssue, error)
	VerifyDocument(ctx context.Context, subject string, appID id.ApplicationID, docTypeID id.DocumentTypeID) error
	ResubmitDocument(ctx context.Context, subject string, appID id.ApplicationID, docTypeID id.DocumentTypeID, req models.ResubmitDocumentRequest) (*models.DocumentUpload, error)
	SendReviewNotifications(ctx context.Context, subject string, appID id.ApplicationID) (int, error)
	Approve(ctx context.Context, subject string, appID id.ApplicationID) (*models.Application, error)
	ListRejections(ctx context.Context, subject string, appID id.ApplicationID) ([]*models.ReviewIssue, error)
	ListReferrals(ctx context.Context, subject string, appID id.ApplicationID) ([]*models.ReviewIssue, error)
}

// PaymentService covers payment creation, checkout, and reconciliation.
type PaymentService interface {
	Create(ctx context.Context, subject string, appID id.ApplicationID, req models.CreatePaymentRequest) (*models.Payment, error)
	Current(ctx context.Context, subject string, appID id.ApplicationID) (*models.Payment, error)
	StartCheckout(ctx context.Context, subject string, paymentID id.PaymentID) (*ports.CheckoutSession, error)
	IsAbandoned(ctx context.Context, paymentID id.PaymentID) (bool, error)
	HandleAbandoned(ctx context.Context, paymentID id.PaymentID) (*models.Payment, error)
	SweepAbandoned(ctx context.Context) (*models.SweepReport, error)
	HandleReturn(ctx context.Context, paymentID id.PaymentID, outcome models.ReturnOutcome) (*models.ReturnResult, error)
	HandleWebhook(ctx context.Context, mayaPaymentID string, status models.PaymentStatus, paidAt *time.Time) error
}

// NotificationService covers the applicant-facing notification feed.
type NotificationService interface {
	ListForSubject(ctx context.Context, subject string) ([]*models.Notification, error)
	MarkReadForSubject(ctx context.Context, subject string, notificationID id.NotificationID) error
}

// Handler handles workflow endpoints.
type Handler struct {
	logger        *slog.Logger
	submission    SubmissionService
	review        ReviewService
	payments      PaymentService
	notifications NotificationService
	validator     middleware.TokenValidator
}

func New(
	submission SubmissionService,
	review ReviewService,
	payments PaymentService,
	notifications NotificationService,
	validator middleware.TokenValidator,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		logger:        logger,
		submission:    submission,
		review:        review,
		payments:      payments,
		notifications: notifications,
		validator:     validator,
	}
}

// Register mounts the workflow routes on the chi router. Webhook ingestion is
// the only unauthenticated route; the gateway cannot carry a bearer token.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(middleware.Logger(h.logger))
	api.Use(middleware.Timeout(30 * time.Second))
	api.Use(middleware.ContentTypeJSON)
	api.Use(middleware.RequireAuth(h.validator, h.logger))

	api.Post("/applications", h.handleStartDraft)
	api.Post("/applications/{appID}/submit", h.handleSubmit)
	api.Post("/applications/{appID}/documents/{docTypeID}", h.handleUploadDocument)
	api.Post("/applications/{appID}/documents/{docTypeID}/verify", h.handleVerifyDocument)
	api.Post("/applications/{appID}/documents/{docTypeID}/reject", h.handleRejectDocument)
	api.Post("/applications/{appID}/documents/{docTypeID}/resubmit", h.handleResubmitDocument)
	api.Post("/applications/{appID}/review-notifications", h.handleSendReviewNotifications)
	api.Post("/applications/{appID}/approve", h.handleApprove)
	api.Get("/applications/{appID}/rejections", h.handleListRejections)
	api.Get("/applications/{appID}/referrals", h.handleListReferrals)

	api.Post("/applications/{appID}/payments", h.handleCreatePayment)
	api.Get("/applications/{appID}/payments/current", h.handleCurrentPayment)
	api.Post("/payments/{paymentID}/checkout", h.handleStartCheckout)
	api.Get("/payments/{paymentID}/abandoned", h.handleIsAbandoned)
	api.Post("/payments/{paymentID}/abandon", h.handleAbandon)
	api.Post("/payments/{paymentID}/return", h.handleReturn)
	api.Post("/payments/sweep", h.handleSweep)

	api.Get("/notifications", h.handleListNotifications)
	api.Post("/notifications/{notificationID}/read", h.handleMarkNotificationRead)

	r.Mount("/", api)

	webhooks := chi.NewRouter()
	webhooks.Use(middleware.Recovery(h.logger))
	webhooks.Use(middleware.RequestID)
	webhooks.Use(middleware.Logger(h.logger))
	webhooks.Post("/maya", h.handleMayaWebhook)
	r.Mount("/webhooks", webhooks)
}

type startDraftRequest struct {
	JobCategoryID string `json:"jobCategoryId"`
}

func (h *Handler) handleStartDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req startDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	categoryID, err := id.ParseJobCategoryID(req.JobCategoryID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	app, err := h.submission.StartDraft(ctx, middleware.GetSubject(ctx), categoryID)
	if err != nil {
		h.logError(ctx, "start draft", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, app)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, err := id.ParseApplicationID(chi.URLParam(r, "appID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	app, err := h.submission.Submit(ctx, middleware.GetSubject(ctx), appID, req)
	if err != nil {
		h.logError(ctx, "submit application", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, app)
}

type uploadDocumentRequest struct {
	StorageKey       string `json:"storageKey"`
	OriginalFilename string `json:"originalFilename"`
}

func (h *Handler) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, docTypeID, err := h.pathDocumentPair(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req uploadDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	upload, err := h.submission.UploadDocument(ctx, middleware.GetSubject(ctx), appID, docTypeID, req.StorageKey, req.OriginalFilename)
	if err != nil {
		h.logError(ctx, "upload document", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, upload)
}

func (h *Handler) handleVerifyDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, docTypeID, err := h.pathDocumentPair(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.review.VerifyDocument(ctx, middleware.GetSubject(ctx), appID, docTypeID); err != nil {
		h.logError(ctx, "verify document", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRejectDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, docTypeID, err := h.pathDocumentPair(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req models.RejectDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	issue, err := h.review.RejectDocument(ctx, middleware.GetSubject(ctx), appID, docTypeID, req)
	if err != nil {
		h.logError(ctx, "reject document", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, issue)
}

func (h *Handler) handleResubmitDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, docTypeID, err := h.pathDocumentPair(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req models.ResubmitDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	upload, err := h.review.ResubmitDocument(ctx, middleware.GetSubject(ctx), appID, docTypeID, req)
	if err != nil {
		h.logError(ctx, "resubmit document", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, upload)
}

func (h *Handler) handleSendReviewNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, err := id.ParseApplicationID(chi.URLParam(r, "appID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	sent, err := h.review.SendReviewNotifications(ctx, middleware.GetSubject(ctx), appID)
	if err != nil {
		h.logError(ctx, "send review notifications", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, err := id.ParseApplicationID(chi.URLParam(r, "appID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	app, err := h.review.Approve(ctx, middleware.GetSubject(ctx), appID)
	if err != nil {
		h.logError(ctx, "approve application", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) handleListRejections(w http.ResponseWriter, r *http.Request) {
	h.listIssues(w, r, h.review.ListRejections)
}

func (h *Handler) handleListReferrals(w http.ResponseWriter, r *http.Request) {
	h.listIssues(w, r, h.review.ListReferrals)
}

func (h *Handler) listIssues(w http.ResponseWriter, r *http.Request, list func(context.Context, string, id.ApplicationID) ([]*models.ReviewIssue, error)) {
	ctx := r.Context()
	appID, err := id.ParseApplicationID(chi.URLParam(r, "appID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	issues, err := list(ctx, middleware.GetSubject(ctx), appID)
	if err != nil {
		h.logError(ctx, "list review issues", err)
		shared.WriteError(w, err)
		return
	}
	if issues == nil {
		issues = []*models.ReviewIssue{}
	}
	shared.WriteJSON(w, http.StatusOK, issues)
}

func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, err := id.ParseApplicationID(chi.URLParam(r, "appID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req models.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	payment, err := h.payments.Create(ctx, middleware.GetSubject(ctx), appID, req)
	if err != nil {
		h.logError(ctx, "create payment", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, payment)
}

func (h *Handler) handleCurrentPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, err := id.ParseApplicationID(chi.URLParam(r, "appID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	payment, err := h.payments.Current(ctx, middleware.GetSubject(ctx), appID)
	if err != nil {
		h.logError(ctx, "load current payment", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, payment)
}

func (h *Handler) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID, err := id.ParsePaymentID(chi.URLParam(r, "paymentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	session, err := h.payments.StartCheckout(ctx, middleware.GetSubject(ctx), paymentID)
	if err != nil {
		h.logError(ctx, "start checkout", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleIsAbandoned(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID, err := id.ParsePaymentID(chi.URLParam(r, "paymentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	abandoned, err := h.payments.IsAbandoned(ctx, paymentID)
	if err != nil {
		h.logError(ctx, "check abandoned", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]bool{"abandoned": abandoned})
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID, err := id.ParsePaymentID(chi.URLParam(r, "paymentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	payment, err := h.payments.HandleAbandoned(ctx, paymentID)
	if err != nil {
		h.logError(ctx, "handle abandoned payment", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, payment)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID, err := id.ParsePaymentID(chi.URLParam(r, "paymentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	outcome := models.ReturnOutcome(r.URL.Query().Get("outcome"))
	result, err := h.payments.HandleReturn(ctx, paymentID, outcome)
	if err != nil {
		h.logError(ctx, "handle gateway return", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.payments.SweepAbandoned(ctx)
	if err != nil {
		h.logError(ctx, "sweep abandoned payments", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

type mayaWebhookPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updatedAt"`
}

func (h *Handler) handleMayaWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var payload mayaWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid webhook payload"))
		return
	}

	status := mapWebhookStatus(payload.Status)
	var paidAt *time.Time
	if payload.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339, payload.UpdatedAt); err == nil {
			paidAt = &t
		}
	}

	if err := h.payments.HandleWebhook(ctx, payload.ID, status, paidAt); err != nil {
		h.logError(ctx, "handle webhook", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.notifications.ListForSubject(ctx, middleware.GetSubject(ctx))
	if err != nil {
		h.logError(ctx, "list notifications", err)
		shared.WriteError(w, err)
		return
	}
	if list == nil {
		list = []*models.Notification{}
	}
	shared.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	notificationID, err := id.ParseNotificationID(chi.URLParam(r, "notificationID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.notifications.MarkReadForSubject(ctx, middleware.GetSubject(ctx), notificationID); err != nil {
		h.logError(ctx, "mark notification read", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathDocumentPair(r *http.Request) (id.ApplicationID, id.DocumentTypeID, error) {
	appID, err := id.ParseApplicationID(chi.URLParam(r, "appID"))
	if err != nil {
		return id.ApplicationID{}, id.DocumentTypeID{}, err
	}
	docTypeID, err := id.ParseDocumentTypeID(chi.URLParam(r, "docTypeID"))
	if err != nil {
		return id.ApplicationID{}, id.DocumentTypeID{}, err
	}
	return appID, docTypeID, nil
}

func (h *Handler) logError(ctx context.Context, op string, err error) {
	if h.logger == nil {
		return
	}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "operation failed",
			"operation", op,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		return
	}
	h.logger.WarnContext(ctx, "request rejected",
		"operation", op,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
}

// mapWebhookStatus translates Maya webhook statuses onto the local lifecycle.
func mapWebhookStatus(s string) models.PaymentStatus {
	switch s {
	case "PAYMENT_SUCCESS":
		return models.PaymentComplete
	case "PAYMENT_FAILED":
		return models.PaymentFailed
	case "PAYMENT_EXPIRED":
		return models.PaymentExpired
	case "PAYMENT_CANCELLED", "AUTH_CANCELLED":
		return models.PaymentCancelled
	default:
		return models.PaymentProcessing
	}
}
