package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"healthpass/internal/jwttoken"
	wfconfig "healthpass/internal/workflow/config"
	"healthpass/internal/workflow/models"
	notifysvc "healthpass/internal/workflow/service/notify"
	paymentsvc "healthpass/internal/workflow/service/payment"
	reviewsvc "healthpass/internal/workflow/service/review"
	submissionsvc "healthpass/internal/workflow/service/submission"
	appstore "healthpass/internal/workflow/store/application"
	doctypestore "healthpass/internal/workflow/store/doctype"
	documentstore "healthpass/internal/workflow/store/document"
	notificationstore "healthpass/internal/workflow/store/notification"
	paymentstore "healthpass/internal/workflow/store/payment"
	issuestore "healthpass/internal/workflow/store/reviewissue"
	userstore "healthpass/internal/workflow/store/user"
	id "healthpass/pkg/domain"
)

// =============================================================================
// Handler Test Suite
// =============================================================================
// Justification for unit tests: the handler layer owns three things the
// services cannot test for themselves: authentication enforcement, path and
// body decoding, and the error-code to HTTP-status mapping. These tests run
// the full router against memory-backed services end to end.

type HandlerSuite struct {
	suite.Suite
	server *httptest.Server
	tokens *jwttoken.Service

	users    *userstore.MemoryStore
	apps     *appstore.MemoryStore
	docTypes *doctypestore.MemoryStore

	applicant *models.User
	admin     *models.User
	category  id.JobCategoryID
	docType   *models.DocumentType
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.users = userstore.NewMemory()
	s.apps = appstore.NewMemory()
	s.docTypes = doctypestore.NewMemory()
	docs := documentstore.NewMemory()
	payments := paymentstore.NewMemory()
	issues := issuestore.NewMemory()
	notifs := notificationstore.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.category = id.NewJobCategoryID()
	s.applicant = &models.User{
		ID:      id.NewUserID(),
		Subject: "subject-applicant",
		Role:    models.RoleApplicant,
	}
	s.admin = &models.User{
		ID:                id.NewUserID(),
		Subject:           "subject-admin",
		Role:              models.RoleAdmin,
		ManagedCategories: []id.JobCategoryID{s.category},
	}
	s.users.Put(s.applicant)
	s.users.Put(s.admin)

	s.docType = &models.DocumentType{
		ID:            id.NewDocumentTypeID(),
		JobCategoryID: s.category,
		Name:          "Government ID",
		IsRequired:    true,
	}
	s.docTypes.Put(s.docType)

	notifier, err := notifysvc.New(s.users, notifs, notifysvc.WithLogger(logger))
	s.Require().NoError(err)
	cfg := wfconfig.DefaultConfig()

	submission, err := submissionsvc.New(s.users, s.apps, s.docTypes, docs, payments, notifier, cfg,
		submissionsvc.WithLogger(logger))
	s.Require().NoError(err)
	review, err := reviewsvc.New(s.users, s.apps, s.docTypes, docs, issues, payments, notifier, cfg,
		reviewsvc.WithLogger(logger))
	s.Require().NoError(err)
	payment, err := paymentsvc.New(s.users, s.apps, payments, issues, notifier, cfg,
		paymentsvc.WithLogger(logger))
	s.Require().NoError(err)

	s.tokens = jwttoken.NewService("handler-test-key", "healthpass-test")

	router := chi.NewRouter()
	New(submission, review, payment, notifier, s.tokens, logger).Register(router)
	s.server = httptest.NewServer(router)
	s.T().Cleanup(s.server.Close)
}

func (s *HandlerSuite) request(method, path, subject string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	if subject != "" {
		token, terr := s.tokens.GenerateToken(subject, "", time.Hour)
		s.Require().NoError(terr)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *HandlerSuite) decode(resp *http.Response, into any) {
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(into))
}

func (s *HandlerSuite) startDraft() string {
	resp := s.request(http.MethodPost, "/applications", s.applicant.Subject,
		map[string]string{"jobCategoryId": s.category.String()})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var app struct {
		ID string `json:"ID"`
	}
	s.decode(resp, &app)
	s.Require().NotEmpty(app.ID)
	return app.ID
}

// =============================================================================
// Authentication Tests
// =============================================================================

func (s *HandlerSuite) TestAuthentication() {
	s.Run("missing token is unauthorized", func() {
		resp := s.request(http.MethodPost, "/applications", "", map[string]string{})
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	s.Run("garbage token is unauthorized", func() {
		req, err := http.NewRequest(http.MethodPost, s.server.URL+"/applications", bytes.NewBufferString("{}"))
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer not-a-token")
		resp, err := s.server.Client().Do(req)
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	s.Run("webhook endpoint requires no token", func() {
		resp := s.request(http.MethodPost, "/webhooks/maya", "",
			map[string]string{"id": "maya-unknown", "status": "PAYMENT_SUCCESS"})
		// Unknown payment, but the request was accepted without auth.
		s.Equal(http.StatusNotFound, resp.StatusCode)
	})
}

// =============================================================================
// Status Mapping Tests
// =============================================================================

func (s *HandlerSuite) TestStatusMapping() {
	s.Run("draft creation returns 201", func() {
		s.startDraft()
	})

	s.Run("malformed body is 400", func() {
		token, err := s.tokens.GenerateToken(s.applicant.Subject, "", time.Hour)
		s.Require().NoError(err)
		req, err := http.NewRequest(http.MethodPost, s.server.URL+"/applications", bytes.NewBufferString("{not json"))
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := s.server.Client().Do(req)
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	s.Run("bad uuid in path is 400 family", func() {
		resp := s.request(http.MethodPost, "/applications/not-a-uuid/submit", s.applicant.Subject, map[string]string{})
		s.True(resp.StatusCode >= 400 && resp.StatusCode < 500)
	})

	s.Run("submit without documents is a validation error", func() {
		appID := s.startDraft()
		resp := s.request(http.MethodPost, "/applications/"+appID+"/submit", s.applicant.Subject,
			models.SubmitRequest{})
		s.Equal(http.StatusBadRequest, resp.StatusCode)

		var body struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		s.decode(resp, &body)
		s.Equal("VALIDATION", body.Error.Code)
		s.Contains(body.Error.Message, "Government ID")
	})

	s.Run("admin action by applicant is 403", func() {
		appID := s.startDraft()
		resp := s.request(http.MethodPost,
			"/applications/"+appID+"/documents/"+s.docType.ID.String()+"/reject",
			s.applicant.Subject,
			models.RejectDocumentRequest{Kind: "rejection", Reason: "blurry"})
		s.Equal(http.StatusForbidden, resp.StatusCode)
	})

	s.Run("unknown application is 404", func() {
		resp := s.request(http.MethodGet, "/applications/"+id.NewApplicationID().String()+"/payments/current",
			s.applicant.Subject, nil)
		s.Equal(http.StatusNotFound, resp.StatusCode)
	})
}

// =============================================================================
// Workflow Round-Trip Tests
// =============================================================================

func (s *HandlerSuite) TestWorkflowRoundTrip() {
	appID := s.startDraft()

	resp := s.request(http.MethodPost,
		"/applications/"+appID+"/documents/"+s.docType.ID.String(),
		s.applicant.Subject,
		map[string]string{"storageKey": "uploads/id.png", "originalFilename": "id.png"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	resp = s.request(http.MethodPost, "/applications/"+appID+"/submit", s.applicant.Subject,
		models.SubmitRequest{Method: "maya", ReferenceNumber: "REF-100"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var app struct {
		Status string `json:"Status"`
	}
	s.decode(resp, &app)
	s.Equal(string(models.StatusSubmitted), app.Status)

	// Admin rejects the document once.
	resp = s.request(http.MethodPost,
		"/applications/"+appID+"/documents/"+s.docType.ID.String()+"/reject",
		s.admin.Subject,
		models.RejectDocumentRequest{Kind: "rejection", Reason: "photo too dark"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var issue struct {
		AttemptNumber int `json:"AttemptNumber"`
	}
	s.decode(resp, &issue)
	s.Equal(1, issue.AttemptNumber)

	// The applicant's rejection feed shows it.
	resp = s.request(http.MethodGet, "/applications/"+appID+"/rejections", s.applicant.Subject, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var rejections []json.RawMessage
	s.decode(resp, &rejections)
	s.Len(rejections, 1)

	// Deferred notification burst, sent by the admin.
	resp = s.request(http.MethodPost, "/applications/"+appID+"/review-notifications", s.admin.Subject, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var sent map[string]int
	s.decode(resp, &sent)
	s.Equal(1, sent["sent"])

	// The applicant sees it in the feed and marks it read.
	resp = s.request(http.MethodGet, "/notifications", s.applicant.Subject, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var feed []struct {
		ID   string `json:"ID"`
		Read bool   `json:"Read"`
	}
	s.decode(resp, &feed)
	s.Require().NotEmpty(feed)
	s.False(feed[0].Read)

	resp = s.request(http.MethodPost, "/notifications/"+feed[0].ID+"/read", s.applicant.Subject, nil)
	s.Equal(http.StatusNoContent, resp.StatusCode)
}

func (s *HandlerSuite) TestPaymentEndpoints() {
	appID := s.startDraft()

	resp := s.request(http.MethodPost,
		"/applications/"+appID+"/documents/"+s.docType.ID.String(),
		s.applicant.Subject,
		map[string]string{"storageKey": "uploads/id.png", "originalFilename": "id.png"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	resp = s.request(http.MethodPost, "/applications/"+appID+"/submit", s.applicant.Subject,
		models.SubmitRequest{Method: "maya", ReferenceNumber: "REF-200"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	// Pay-now submit already created the payment, so a second create conflicts.
	resp = s.request(http.MethodPost, "/applications/"+appID+"/payments", s.applicant.Subject,
		models.CreatePaymentRequest{Amount: 30000, ServiceFee: 1500, NetAmount: 31500, Method: "maya"})
	s.Equal(http.StatusConflict, resp.StatusCode)

	resp = s.request(http.MethodGet, "/applications/"+appID+"/payments/current", s.applicant.Subject, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var payment struct {
		ID     string `json:"ID"`
		Status string `json:"Status"`
	}
	s.decode(resp, &payment)
	s.Equal(string(models.PaymentPending), payment.Status)

	// No gateway configured in this wiring.
	resp = s.request(http.MethodPost, "/payments/"+payment.ID+"/checkout", s.applicant.Subject, nil)
	s.Equal(http.StatusBadGateway, resp.StatusCode)

	resp = s.request(http.MethodGet, "/payments/"+payment.ID+"/abandoned", s.applicant.Subject, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var abandoned map[string]bool
	s.decode(resp, &abandoned)
	s.False(abandoned["abandoned"])

	resp = s.request(http.MethodPost, "/payments/sweep", s.admin.Subject, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var report struct {
		Scanned int `json:"scanned"`
	}
	s.decode(resp, &report)
	s.Equal(0, report.Scanned)

	// Trust-the-redirect completion without a gateway reference.
	resp = s.request(http.MethodPost, "/payments/"+payment.ID+"/return?outcome=success", s.applicant.Subject, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var result struct {
		Status     string `json:"status"`
		Reconciled bool   `json:"reconciled"`
	}
	s.decode(resp, &result)
	s.Equal(string(models.PaymentComplete), result.Status)
	s.False(result.Reconciled)
}
