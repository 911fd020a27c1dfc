package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"github.com/makkenzo/license-issuer-api/internal/domain/order"
	"github.com/makkenzo/license-issuer-api/internal/handler/dto"
	"github.com/makkenzo/license-issuer-api/internal/handler/middleware"
	"github.com/makkenzo/license-issuer-api/internal/service"
	"github.com/makkenzo/license-issuer-api/internal/storage/catalog"
	"github.com/makkenzo/license-issuer-api/internal/storage/memstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test"

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) NotifyLicenseIssued(ctx context.Context, lic *license.License, ord *order.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

type failingDedup struct{ *memstorage.EventDeduplicator }

func (failingDedup) Claim(ctx context.Context, eventID string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

type HandlerTestSuite struct {
	suite.Suite
	router   *gin.Engine
	repo     *memstorage.LicenseRepository
	notifier *countingNotifier
	adminKey string
	dedup    EventDeduplicator
}

func (s *HandlerTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
}

func (s *HandlerTestSuite) SetupTest() {
	s.repo = memstorage.NewLicenseRepository()
	s.notifier = &countingNotifier{}
	s.dedup = memstorage.NewEventDeduplicator(time.Hour)
	s.buildRouter()
}

func (s *HandlerTestSuite) buildRouter() {
	logger := zap.NewNop()

	cat, err := catalog.Load("", logger)
	s.Require().NoError(err)

	licenseService := service.NewLicenseService(s.repo, cat, s.notifier, logger,
		service.WithActivationTokens(service.NewActivationTokenSigner("token-secret", "test")))

	apiKeyRepo := memstorage.NewAPIKeyRepository()
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, logger)
	created, err := apiKeyService.CreateAPIKey(context.Background(), "test admin")
	s.Require().NoError(err)
	s.adminKey = created.FullKey

	licenseHandler := NewLicenseHandler(licenseService, logger)
	webhookHandler := NewWebhookHandler(licenseService, s.dedup, logger)
	productHandler := NewProductHandler(licenseService, logger)
	dashboardHandler := NewDashboardHandler(licenseService, logger)
	apiKeyHandler := NewAPIKeyHandler(apiKeyService, logger)
	healthHandler := NewHealthHandler(map[string]Pinger{
		"database": PingFunc(func(ctx context.Context) error { return nil }),
	}, logger)

	auth := middleware.APIKeyAuthMiddleware(apiKeyRepo, logger)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	router.GET("/healthz", healthHandler.Check)
	api := router.Group("/api/v1")
	api.POST("/webhooks/commerce", middleware.WebhookSignature(testWebhookSecret, 5*time.Minute, logger), webhookHandler.Commerce)
	api.POST("/licenses/activate", licenseHandler.Activate)
	api.GET("/licenses", auth, licenseHandler.List)
	api.GET("/licenses/:id", auth, licenseHandler.GetByID)
	api.PATCH("/licenses/:id/status", auth, licenseHandler.UpdateStatus)
	api.GET("/products", auth, productHandler.List)
	api.GET("/dashboard/summary", auth, dashboardHandler.GetSummary)
	api.GET("/apikeys", auth, apiKeyHandler.List)
	api.POST("/apikeys", auth, apiKeyHandler.Create)
	api.DELETE("/apikeys/:id", auth, apiKeyHandler.Revoke)
	s.router = router
}

func (s *HandlerTestSuite) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerTestSuite) webhookRequest(eventID, eventType string, data any) *http.Request {
	raw, err := json.Marshal(data)
	s.Require().NoError(err)
	body, err := json.Marshal(dto.WebhookEvent{EventID: eventID, EventType: eventType, Data: raw})
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/commerce", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.WebhookSignatureHeader, middleware.SignWebhookBody(testWebhookSecret, body))
	req.Header.Set(middleware.WebhookTimestampHeader, strconv.FormatInt(time.Now().Unix(), 10))
	return req
}

func paidOrder(id string, skus ...string) order.Order {
	items := make([]order.LineItem, len(skus))
	for i, sku := range skus {
		items[i] = order.LineItem{SKU: sku, Quantity: 1}
	}
	return order.Order{ID: id, CustomerID: "C1", CustomerEmail: "dev@example.com", LineItems: items}
}

func (s *HandlerTestSuite) jsonRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (s *HandlerTestSuite) adminRequest(method, path string, body any) *http.Request {
	req := s.jsonRequest(method, path, body)
	req.Header.Set("X-API-Key", s.adminKey)
	return req
}

func (s *HandlerTestSuite) issue(orderID string, skus ...string) dto.WebhookResponse {
	w := s.do(s.webhookRequest("evt-"+orderID, dto.EventOrderPaid, paidOrder(orderID, skus...)))
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var resp dto.WebhookResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *HandlerTestSuite) TestWebhook_OrderPaidIssuesLicenses() {
	resp := s.issue("O1", "FHIR-DEV-PRO-1Y", "FHIR-TRN-ONS-DAY")

	s.Equal(1, resp.Issued)
	s.Require().Len(resp.Licenses, 1)
	s.Regexp(`^FHIR-LIC-PRO-[A-Z0-9]{8}$`, resp.Licenses[0].LicenseKey)
	s.Equal(license.StatusActive, resp.Licenses[0].Status)
	s.Equal(1, s.notifier.count)
}

func (s *HandlerTestSuite) TestWebhook_DuplicateEventIsAcknowledged() {
	first := s.issue("O2", "FHIR-DEV-PRO-1Y")
	s.Equal(1, first.Issued)

	w := s.do(s.webhookRequest("evt-O2", dto.EventOrderPaid, paidOrder("O2", "FHIR-DEV-PRO-1Y")))
	s.Equal(http.StatusOK, w.Code)

	var resp dto.WebhookResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.True(resp.Duplicate)
	s.Zero(resp.Issued)

	_, total, err := s.repo.List(context.Background(), license.ListParams{})
	s.Require().NoError(err)
	s.EqualValues(1, total)
}

func (s *HandlerTestSuite) TestWebhook_RedeliveryWithNewEventIDReusesLicenses() {
	first := s.issue("O3", "FHIR-DEV-PRO-1Y")

	w := s.do(s.webhookRequest("evt-O3-retry", dto.EventOrderPaid, paidOrder("O3", "FHIR-DEV-PRO-1Y")))
	s.Require().Equal(http.StatusOK, w.Code)
	var resp dto.WebhookResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Require().Len(resp.Licenses, 1)
	s.Equal(first.Licenses[0].ID, resp.Licenses[0].ID)
	s.Equal(2, s.notifier.count, "still undelivered, so delivery is requested again")

	_, total, err := s.repo.List(context.Background(), license.ListParams{})
	s.Require().NoError(err)
	s.EqualValues(1, total)
}

func (s *HandlerTestSuite) TestWebhook_MalformedEmailStillIssues() {
	ord := paidOrder("O6", "FHIR-DEV-PRO-1Y")
	ord.CustomerEmail = "jane.doe@"

	w := s.do(s.webhookRequest("evt-O6", dto.EventOrderPaid, ord))
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp dto.WebhookResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(1, resp.Issued)
	s.Zero(s.notifier.count, "nothing is sent to an unusable address")
}

func (s *HandlerTestSuite) TestWebhook_OversizedBody() {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/commerce", bytes.NewReader(bytes.Repeat([]byte("a"), 2<<20)))
	req.Header.Set(middleware.WebhookSignatureHeader, middleware.SignWebhookBody(testWebhookSecret, []byte("{}")))

	w := s.do(req)
	s.Equal(http.StatusRequestEntityTooLarge, w.Code)
	s.Contains(w.Body.String(), "PAYLOAD_TOO_LARGE")
}

func TestEventTypeLabel(t *testing.T) {
	assert.Equal(t, dto.EventOrderPaid, eventTypeLabel(dto.EventOrderPaid))
	assert.Equal(t, "other", eventTypeLabel("order.refunded"))
	assert.Equal(t, "other", eventTypeLabel("x-attacker-chosen-1234"))
}

func (s *HandlerTestSuite) TestWebhook_DedupOutageStillProcesses() {
	s.dedup = failingDedup{memstorage.NewEventDeduplicator(time.Hour)}
	s.buildRouter()

	resp := s.issue("O4", "FHIR-DEV-BAS-1Y")
	s.Equal(1, resp.Issued)
}

func (s *HandlerTestSuite) TestWebhook_OtherEventsIgnored() {
	w := s.do(s.webhookRequest("evt-refund", "order.refunded", map[string]string{"orderId": "O1"}))
	s.Equal(http.StatusAccepted, w.Code)

	var resp dto.WebhookResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.True(resp.Ignored)
}

func (s *HandlerTestSuite) TestWebhook_BadSignature() {
	req := s.webhookRequest("evt-1", dto.EventOrderPaid, paidOrder("O5", "FHIR-DEV-PRO-1Y"))
	req.Header.Set(middleware.WebhookSignatureHeader, middleware.SignWebhookBody("wrong-secret", []byte("{}")))

	w := s.do(req)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Zero(s.notifier.count)
}

func (s *HandlerTestSuite) TestWebhook_MissingSignature() {
	req := s.webhookRequest("evt-1", dto.EventOrderPaid, paidOrder("O5", "FHIR-DEV-PRO-1Y"))
	req.Header.Del(middleware.WebhookSignatureHeader)

	s.Equal(http.StatusUnauthorized, s.do(req).Code)
}

func (s *HandlerTestSuite) TestWebhook_StaleTimestamp() {
	req := s.webhookRequest("evt-1", dto.EventOrderPaid, paidOrder("O5", "FHIR-DEV-PRO-1Y"))
	req.Header.Set(middleware.WebhookTimestampHeader, strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10))

	s.Equal(http.StatusUnauthorized, s.do(req).Code)
}

func (s *HandlerTestSuite) TestWebhook_InvalidOrderReleasesClaim() {
	invalid := order.Order{ID: "O6", CustomerEmail: "not-an-email", LineItems: []order.LineItem{{SKU: "FHIR-DEV-PRO-1Y"}}}
	w := s.do(s.webhookRequest("evt-O6", dto.EventOrderPaid, invalid))
	s.Equal(http.StatusBadRequest, w.Code)

	// The provider's corrected retry under the same event id is processed.
	w = s.do(s.webhookRequest("evt-O6", dto.EventOrderPaid, paidOrder("O6", "FHIR-DEV-PRO-1Y")))
	s.Require().Equal(http.StatusOK, w.Code)
	var resp dto.WebhookResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(1, resp.Issued)
}

func (s *HandlerTestSuite) activate(key string) dto.ActivateLicenseResponse {
	req := s.jsonRequest(http.MethodPost, "/api/v1/licenses/activate", dto.ActivateLicenseRequest{LicenseKey: key})
	req.Header.Set("User-Agent", "fhir-toolkit/2.1")
	w := s.do(req)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp dto.ActivateLicenseResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *HandlerTestSuite) TestActivate() {
	key := s.issue("O7", "FHIR-DEV-ENT-1Y").Licenses[0].LicenseKey

	resp := s.activate(key)
	s.True(resp.Valid)
	s.Require().NotNil(resp.License)
	s.EqualValues(1, resp.License.AccessCount)
	s.Equal([]string{"fhir-toolkit/2.1"}, resp.License.UserAgents)
	s.Len(resp.License.IPAddresses, 1)
	s.Contains(resp.Features, "bulk-data")
	s.Require().NotNil(resp.Deliverables)
	s.Equal(25, resp.Deliverables.MaxUsers)
	s.NotEmpty(resp.ActivationToken)

	s.EqualValues(2, s.activate(key).License.AccessCount)
}

func (s *HandlerTestSuite) TestActivate_Rejections() {
	resp := s.activate("FHIR-LIC-PRO-UNKNOWN1")
	s.False(resp.Valid)
	s.Equal(string(service.KeyNotFound), resp.ErrorKind)
	s.Nil(resp.License)

	resp = s.activate("")
	s.False(resp.Valid)
	s.Equal(string(service.KeyNotFound), resp.ErrorKind)

	issued := s.issue("O8", "FHIR-DEV-PRO-1Y").Licenses[0]
	w := s.do(s.adminRequest(http.MethodPatch, "/api/v1/licenses/"+issued.ID.String()+"/status", map[string]string{"status": "revoked"}))
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	resp = s.activate(issued.LicenseKey)
	s.False(resp.Valid)
	s.Equal(string(service.LicenseInactive), resp.ErrorKind)
}

func (s *HandlerTestSuite) TestAdmin_RequiresAPIKey() {
	req := s.jsonRequest(http.MethodGet, "/api/v1/licenses", nil)
	s.Equal(http.StatusUnauthorized, s.do(req).Code)

	req.Header.Set("X-API-Key", "lia_deadbeef_notthesecret")
	s.Equal(http.StatusForbidden, s.do(req).Code)

	req.Header.Set("X-API-Key", "garbage")
	s.Equal(http.StatusUnauthorized, s.do(req).Code)
}

func (s *HandlerTestSuite) TestAdmin_Licenses() {
	issued := s.issue("O9", "FHIR-DEV-PRO-1Y", "FHIR-DEV-BAS-1Y")

	w := s.do(s.adminRequest(http.MethodGet, "/api/v1/licenses?order_id=O9&limit=10", nil))
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var page dto.PaginatedLicenseResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &page))
	s.EqualValues(2, page.TotalCount)
	s.Equal(10, page.Limit)

	w = s.do(s.adminRequest(http.MethodGet, "/api/v1/licenses/"+issued.Licenses[0].ID.String(), nil))
	s.Require().Equal(http.StatusOK, w.Code)

	s.Equal(http.StatusNotFound, s.do(s.adminRequest(http.MethodGet, "/api/v1/licenses/"+uuid.NewString(), nil)).Code)
	s.Equal(http.StatusBadRequest, s.do(s.adminRequest(http.MethodGet, "/api/v1/licenses/not-a-uuid", nil)).Code)
	s.Equal(http.StatusBadRequest, s.do(s.adminRequest(http.MethodGet, "/api/v1/licenses?status=bogus", nil)).Code)
}

func (s *HandlerTestSuite) TestAdmin_UpdateStatusRejectsExpired() {
	issued := s.issue("O10", "FHIR-DEV-PRO-1Y").Licenses[0]
	path := fmt.Sprintf("/api/v1/licenses/%s/status", issued.ID)

	w := s.do(s.adminRequest(http.MethodPatch, path, map[string]string{"status": "expired"}))
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerTestSuite) TestAdmin_ProductsAndDashboard() {
	s.issue("O11", "FHIR-DEV-PRO-1Y")

	w := s.do(s.adminRequest(http.MethodGet, "/api/v1/products", nil))
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "FHIR-DEV-PRO-1Y")

	w = s.do(s.adminRequest(http.MethodGet, "/api/v1/dashboard/summary", nil))
	s.Require().Equal(http.StatusOK, w.Code)
	var summary dto.DashboardSummaryResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &summary))
	s.EqualValues(1, summary.TotalLicenses)
	s.Equal(30, summary.ExpiringSoon.PeriodDays)

	w = s.do(s.adminRequest(http.MethodGet, "/api/v1/dashboard/summary?expiring_within_days=400", nil))
	s.Require().Equal(http.StatusOK, w.Code)
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &summary))
	s.EqualValues(1, summary.ExpiringSoon.Count)

	s.Equal(http.StatusBadRequest, s.do(s.adminRequest(http.MethodGet, "/api/v1/dashboard/summary?expiring_within_days=-5", nil)).Code)
}

func (s *HandlerTestSuite) TestAdmin_APIKeys() {
	w := s.do(s.adminRequest(http.MethodPost, "/api/v1/apikeys", map[string]string{"description": "ops"}))
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var created dto.CreateAPIKeyResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &created))
	s.NotEmpty(created.FullKey)

	w = s.do(s.adminRequest(http.MethodGet, "/api/v1/apikeys", nil))
	s.Require().Equal(http.StatusOK, w.Code)
	var keys []dto.APIKeyResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &keys))
	s.Len(keys, 2)

	w = s.do(s.adminRequest(http.MethodDelete, "/api/v1/apikeys/"+created.ID.String(), nil))
	s.Equal(http.StatusNoContent, w.Code)

	req := s.jsonRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("X-API-Key", created.FullKey)
	s.Equal(http.StatusForbidden, s.do(req).Code)

	var adminID uuid.UUID
	for _, k := range keys {
		if k.ID != created.ID {
			adminID = k.ID
			s.Equal("lia_"+k.Prefix+"_********", k.Masked)
		}
	}
	w = s.do(s.adminRequest(http.MethodDelete, "/api/v1/apikeys/"+adminID.String(), nil))
	s.Equal(http.StatusConflict, w.Code, "the last enabled key cannot be revoked")

	s.Equal(http.StatusNotFound, s.do(s.adminRequest(http.MethodDelete, "/api/v1/apikeys/"+uuid.NewString(), nil)).Code)
}

func (s *HandlerTestSuite) TestHealth() {
	w := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"database":"ok"`)
}

func TestHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}
