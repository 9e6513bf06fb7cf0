package insight_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kalendae/meeting-insights/internal"
	"github.com/kalendae/meeting-insights/internal/event"
	"github.com/kalendae/meeting-insights/internal/insight"
)

// Mock insight service for handler testing
type mockInsightService struct {
	result      *insight.Insight
	err         error
	lastRefresh bool
}

func (m *mockInsightService) GenerateForEvent(_ context.Context, email string, ev event.Event, refresh bool) (*insight.Insight, error) {
	m.lastRefresh = refresh
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

var _ = Describe("InsightHandler", func() {
	var (
		mockService *mockInsightService
		handler     *insight.Handler
	)

	BeforeEach(func() {
		mockService = &mockInsightService{result: &insight.Insight{
			EventID:     "evt-1",
			Text:        "Open with the budget question.",
			GeneratedAt: time.Now(),
		}}
		handler = insight.NewHandler(mockService)
	})

	request := func(body, query string) (*httptest.ResponseRecorder, *http.Request) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/insights"+query, strings.NewReader(body))
		req = req.WithContext(internal.ContextWithEmail(req.Context(), "alice@acme.com"))
		return httptest.NewRecorder(), req
	}

	Describe("Generate", func() {
		It("should return the insight with a renderable card", func() {
			rec, req := request(`{"event":{"event_id":"evt-1","title":"Q3 planning"}}`, "")

			handler.Generate(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp insight.GenerateResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Insight.Text).To(Equal("Open with the budget question."))
			Expect(resp.Card.Title).To(Equal("Q3 planning"))
			Expect(resp.Card.Actions).ToNot(BeEmpty())
		})

		It("should pass the refresh flag through", func() {
			rec, req := request(`{"event":{"event_id":"evt-1"}}`, "?refresh=true")

			handler.Generate(rec, req)

			Expect(mockService.lastRefresh).To(BeTrue())
		})

		It("should answer an unregistered user with the registration card", func() {
			mockService.err = internal.ErrUserNotRegistered
			rec, req := request(`{"event":{"event_id":"evt-1"}}`, "")

			handler.Generate(rec, req)

			Expect(rec.Code).To(Equal(http.StatusNotFound))
			var resp insight.ErrorResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Code).To(Equal(string(internal.ErrCodeUserNotRegistered)))
			actions := make([]string, 0, len(resp.Card.Actions))
			for _, action := range resp.Card.Actions {
				actions = append(actions, action.Action)
			}
			Expect(actions).To(ContainElement(event.ActionRegister))
		})

		It("should answer run failures with an error card offering a retry", func() {
			mockService.err = internal.NewExternalError("assistant run failed: Rate limit exceeded", internal.ErrCodeRunFailed)
			rec, req := request(`{"event":{"event_id":"evt-1"}}`, "")

			handler.Generate(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			var resp insight.ErrorResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Error).To(ContainSubstring("Rate limit exceeded"))
			Expect(resp.Card.Actions).To(HaveLen(1))
			Expect(resp.Card.Actions[0].Action).To(Equal(event.ActionGenerateInsight))
			Expect(resp.Card.Actions[0].Params).To(HaveKeyWithValue("event_id", "evt-1"))
		})

		It("should reject a body without an event id", func() {
			rec, req := request(`{"event":{"title":"No id"}}`, "")

			handler.Generate(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should reject requests without an identity", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/insights", strings.NewReader(`{}`))
			rec := httptest.NewRecorder()

			handler.Generate(rec, req)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})
})
