package access_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kalendae/meeting-insights/internal"
	"github.com/kalendae/meeting-insights/internal/access"
)

// Mock access service for handler testing
type mockAccessService struct {
	details        *access.AccessDetails
	registerErr    error
	lastSkipCache  bool
	invalidated    []string
	registeredName string
}

func (m *mockAccessService) Resolve(_ context.Context, email string, skipCache bool) *access.AccessDetails {
	m.lastSkipCache = skipCache
	return m.details
}

func (m *mockAccessService) Invalidate(_ context.Context, email string) {
	m.invalidated = append(m.invalidated, email)
}

func (m *mockAccessService) Register(_ context.Context, email, name string) (*access.AccessDetails, error) {
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	m.registeredName = name
	return m.details, nil
}

var _ = Describe("AccessHandler", func() {
	var (
		mockService *mockAccessService
		handler     *access.Handler
	)

	BeforeEach(func() {
		mockService = &mockAccessService{details: &access.AccessDetails{
			UserID:      "u1",
			CompanyID:   "c1",
			AssistantID: "asst_123",
			Status:      access.StatusActive,
		}}
		handler = access.NewHandler(mockService)
	})

	withEmail := func(r *http.Request, email string) *http.Request {
		return r.WithContext(internal.ContextWithEmail(r.Context(), email))
	}

	Describe("Me", func() {
		It("should report a registered user's access", func() {
			req := withEmail(httptest.NewRequest(http.MethodGet, "/api/v1/access/me", nil), "alice@acme.com")
			rec := httptest.NewRecorder()

			handler.Me(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp access.ResolveResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Registered).To(BeTrue())
			Expect(resp.Access.AssistantID).To(Equal("asst_123"))
		})

		It("should answer 200 with registered false for unknown users", func() {
			mockService.details = nil
			req := withEmail(httptest.NewRequest(http.MethodGet, "/api/v1/access/me", nil), "nobody@acme.com")
			rec := httptest.NewRecorder()

			handler.Me(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp access.ResolveResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Registered).To(BeFalse())
		})

		It("should pass the refresh flag through as a cache bypass", func() {
			req := withEmail(httptest.NewRequest(http.MethodGet, "/api/v1/access/me?refresh=true", nil), "alice@acme.com")
			rec := httptest.NewRecorder()

			handler.Me(rec, req)

			Expect(mockService.lastSkipCache).To(BeTrue())
		})

		It("should reject requests without an identity", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/access/me", nil)
			rec := httptest.NewRecorder()

			handler.Me(rec, req)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("Refresh", func() {
		It("should invalidate the caller's cached entry", func() {
			req := withEmail(httptest.NewRequest(http.MethodPost, "/api/v1/access/refresh", nil), "alice@acme.com")
			rec := httptest.NewRecorder()

			handler.Refresh(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(mockService.invalidated).To(ConsistOf("alice@acme.com"))
		})
	})

	Describe("Register", func() {
		It("should register the identity's email, never one from the body", func() {
			body := strings.NewReader(`{"name":"Carol"}`)
			req := withEmail(httptest.NewRequest(http.MethodPost, "/api/v1/access/register", body), "carol@acme.com")
			rec := httptest.NewRecorder()

			handler.Register(rec, req)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(mockService.registeredName).To(Equal("Carol"))
		})

		It("should map service errors onto their HTTP status", func() {
			mockService.registerErr = internal.NewNotFoundError("no company is onboarded for this email domain", internal.ErrCodeCompanyNotFound)
			req := withEmail(httptest.NewRequest(http.MethodPost, "/api/v1/access/register", nil), "dan@unknown.io")
			rec := httptest.NewRecorder()

			handler.Register(rec, req)

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})
