package backend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kalendae/meeting-insights/internal/backend"
	"github.com/kalendae/meeting-insights/pkg/cache"
)

var _ = Describe("Registry", func() {
	var (
		ctx        context.Context
		memCache   *cache.Memory
		routeStore *mockRouteStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		memCache = cache.NewMemory()
		routeStore = newMockRouteStore()
	})

	newRegistry := func(baseURL string) *backend.Registry {
		client := backend.NewClient(baseURL, 2*time.Second, testLogger())
		return backend.NewRegistry(client, memCache, routeStore, time.Hour, testLogger())
	}

	Describe("Discover", func() {
		Context("against a backend with a conventional layout", func() {
			var server *httptest.Server

			BeforeEach(func() {
				mux := http.NewServeMux()
				mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusUnauthorized)
					w.Write([]byte(`{"error":"credentials required"}`))
				})
				mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.Write([]byte(`[]`))
				})
				mux.HandleFunc("/api/companies", func(w http.ResponseWriter, r *http.Request) {
					// answers, but not with JSON
					w.Write([]byte(`<html>companies</html>`))
				})
				server = httptest.NewServer(mux)
				DeferCleanup(server.Close)
			})

			It("should find every operation", func() {
				registry := newRegistry(server.URL)

				discovered, err := registry.Discover(ctx)

				Expect(err).ToNot(HaveOccurred())
				Expect(discovered[backend.OpUsers]).To(Equal("/api/users"))
				Expect(discovered[backend.OpLogin]).To(Equal("/api/auth/login"))
				Expect(discovered[backend.OpCompanies]).To(Equal("/api/companies"))
			})

			It("should treat an auth-rejected probe as an existing route", func() {
				registry := newRegistry(server.URL)

				discovered, err := registry.Discover(ctx)

				Expect(err).ToNot(HaveOccurred())
				Expect(discovered).To(HaveKey(backend.OpLogin))
			})

			It("should fall through 404 candidates to the query-style route", func() {
				registry := newRegistry(server.URL)

				discovered, err := registry.Discover(ctx)

				Expect(err).ToNot(HaveOccurred())
				// /api/users/email/{email} 404s, the query form answers
				Expect(discovered[backend.OpUserByEmail]).To(Equal("/api/users?email={email}"))
			})

			It("should persist what it found", func() {
				registry := newRegistry(server.URL)

				_, err := registry.Discover(ctx)

				Expect(err).ToNot(HaveOccurred())
				Expect(routeStore.saved["users"]).To(Equal("/api/users"))
				Expect(routeStore.saved["login"]).To(Equal("/api/auth/login"))
			})
		})

		Context("when probes are rejected with 403", func() {
			It("should still classify the route as existing", func() {
				mux := http.NewServeMux()
				mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusForbidden)
				})
				server := httptest.NewServer(mux)
				DeferCleanup(server.Close)

				registry := newRegistry(server.URL)
				discovered, err := registry.Discover(ctx)

				Expect(err).ToNot(HaveOccurred())
				Expect(discovered[backend.OpUsers]).To(Equal("/api/users"))
			})
		})

		Context("when the backend is unreachable", func() {
			It("should return the fallback map without persisting it", func() {
				server := httptest.NewServer(http.NotFoundHandler())
				server.Close()

				registry := newRegistry(server.URL)
				discovered, err := registry.Discover(ctx)

				Expect(err).ToNot(HaveOccurred())
				Expect(discovered).To(Equal(backend.FallbackMap()))
				Expect(routeStore.saved).To(BeEmpty())
			})
		})
	})

	Describe("Resolve", func() {
		Context("when the route is cached", func() {
			It("should answer from the cache without touching the backend", func() {
				server := httptest.NewServer(http.NotFoundHandler())
				server.Close()
				registry := newRegistry(server.URL)

				memCache.Set(ctx, cache.EndpointKey("users"), "/crew", time.Hour)
				memCache.Set(ctx, cache.EndpointKey("login"), "/signin", time.Hour)

				Expect(registry.Resolve(ctx, backend.OpUsers)).To(Equal("/crew"))
			})
		})

		Context("when only the persisted store has the route", func() {
			It("should load it and serve from cache afterwards", func() {
				server := httptest.NewServer(http.NotFoundHandler())
				server.Close()
				registry := newRegistry(server.URL)

				routeStore.routes["users"] = "/crew"
				routeStore.routes["login"] = "/signin"

				Expect(registry.Resolve(ctx, backend.OpUsers)).To(Equal("/crew"))

				cached, ok := memCache.Get(ctx, cache.EndpointKey("users"))
				Expect(ok).To(BeTrue())
				Expect(cached).To(Equal("/crew"))
			})
		})

		Context("when nothing is known and the backend is down", func() {
			It("should fall back to the first candidate", func() {
				server := httptest.NewServer(http.NotFoundHandler())
				server.Close()
				registry := newRegistry(server.URL)

				Expect(registry.Resolve(ctx, backend.OpUsers)).To(Equal(backend.Candidates(backend.OpUsers)[0]))
			})
		})
	})

	Describe("Memorize", func() {
		It("should cache and persist the proven path", func() {
			server := httptest.NewServer(http.NotFoundHandler())
			server.Close()
			registry := newRegistry(server.URL)

			registry.Memorize(ctx, backend.OpCompanies, "/orgs")

			cached, ok := memCache.Get(ctx, cache.EndpointKey("companies"))
			Expect(ok).To(BeTrue())
			Expect(cached).To(Equal("/orgs"))
			Expect(routeStore.saved["companies"]).To(Equal("/orgs"))
		})
	})

	Describe("ExpandPath", func() {
		It("should substitute both placeholders", func() {
			Expect(backend.ExpandPath("/api/users/email/{email}", "a@b.com", "")).To(Equal("/api/users/email/a@b.com"))
			Expect(backend.ExpandPath("/api/companies?domain={domain}", "", "b.com")).To(Equal("/api/companies?domain=b.com"))
		})
	})
})
