package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kalendae/meeting-insights/internal/backend"
	"github.com/kalendae/meeting-insights/pkg/cache"
)

var _ = Describe("Session", func() {
	var (
		ctx      context.Context
		memCache *cache.Memory
	)

	BeforeEach(func() {
		ctx = context.Background()
		memCache = cache.NewMemory()
	})

	// primeRoutes seeds the endpoint cache so nothing triggers discovery
	// mid-test.
	primeRoutes := func() {
		memCache.Set(ctx, cache.EndpointKey("login"), "/api/auth/login", time.Hour)
		memCache.Set(ctx, cache.EndpointKey("users"), "/api/users", time.Hour)
	}

	newSession := func(baseURL string, creds []backend.Credentials, devToken string) *backend.Session {
		client := backend.NewClient(baseURL, 2*time.Second, testLogger())
		registry := backend.NewRegistry(client, memCache, nil, time.Hour, testLogger())
		return backend.NewSession(client, registry, memCache, creds, devToken, time.Hour, testLogger())
	}

	Describe("Authenticate", func() {
		It("should extract the token from a nested login response", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
				var body map[string]string
				json.NewDecoder(r.Body).Decode(&body)
				if body["email"] != "admin@acme.com" || body["password"] != "s3cret" {
					w.WriteHeader(http.StatusUnauthorized)
					w.Write([]byte(`{"error":"bad credentials"}`))
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"data":{"accessToken":"tok-1"}}`))
			})
			server := httptest.NewServer(mux)
			DeferCleanup(server.Close)
			primeRoutes()

			session := newSession(server.URL, nil, "")
			token, err := session.Authenticate(ctx, backend.Credentials{Email: "admin@acme.com", Password: "s3cret"})

			Expect(err).ToNot(HaveOccurred())
			Expect(token).To(Equal("tok-1"))
			Expect(session.Token()).To(Equal("tok-1"))
		})

		It("should return AuthError when every login endpoint refuses", func() {
			server := httptest.NewServer(http.NotFoundHandler())
			DeferCleanup(server.Close)
			primeRoutes()

			session := newSession(server.URL, nil, "")
			_, err := session.Authenticate(ctx, backend.Credentials{Email: "admin@acme.com", Password: "wrong"})

			var authErr *backend.AuthError
			Expect(err).To(BeAssignableToTypeOf(authErr))
			Expect(session.Token()).To(BeEmpty())
		})
	})

	Describe("TryAuth", func() {
		Context("with working credentials", func() {
			It("should authenticate and report true", func() {
				mux := http.NewServeMux()
				mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
					w.Write([]byte(`{"token":"tok-2"}`))
				})
				server := httptest.NewServer(mux)
				DeferCleanup(server.Close)
				primeRoutes()

				session := newSession(server.URL, []backend.Credentials{{Email: "admin@acme.com", Password: "pw"}}, "")

				Expect(session.TryAuth(ctx)).To(BeTrue())
				Expect(session.Token()).To(Equal("tok-2"))
			})
		})

		Context("with only a development token", func() {
			It("should fall back to it when the backend honors it", func() {
				mux := http.NewServeMux()
				mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
					if r.Header.Get("Authorization") != "Bearer dev-tok" {
						w.WriteHeader(http.StatusUnauthorized)
						w.Write([]byte(`{}`))
						return
					}
					w.Write([]byte(`[]`))
				})
				server := httptest.NewServer(mux)
				DeferCleanup(server.Close)
				primeRoutes()

				session := newSession(server.URL, nil, "dev-tok")

				Expect(session.TryAuth(ctx)).To(BeTrue())
				Expect(session.Token()).To(Equal("dev-tok"))
			})
		})

		Context("when a stale cached token is rejected", func() {
			It("should drop it and report false with no other strategy", func() {
				mux := http.NewServeMux()
				mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusUnauthorized)
					w.Write([]byte(`{}`))
				})
				server := httptest.NewServer(mux)
				DeferCleanup(server.Close)
				primeRoutes()

				memCache.Set(ctx, cache.NamespaceToken, "stale", time.Hour)
				session := newSession(server.URL, nil, "")

				Expect(session.TryAuth(ctx)).To(BeFalse())
				Expect(session.Token()).To(BeEmpty())
			})
		})

		Context("when a token is real but lacks scope", func() {
			It("should accept a 403 probe answer", func() {
				mux := http.NewServeMux()
				mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusForbidden)
					w.Write([]byte(`{}`))
				})
				server := httptest.NewServer(mux)
				DeferCleanup(server.Close)
				primeRoutes()

				memCache.Set(ctx, cache.NamespaceToken, "scoped", time.Hour)
				session := newSession(server.URL, nil, "")

				Expect(session.TryAuth(ctx)).To(BeTrue())
				Expect(session.Token()).To(Equal("scoped"))
			})
		})

		Context("when every strategy fails", func() {
			It("should report false and leave the session unauthenticated", func() {
				server := httptest.NewServer(http.NotFoundHandler())
				DeferCleanup(server.Close)
				primeRoutes()

				session := newSession(server.URL, []backend.Credentials{{Email: "a@b.com", Password: "x"}}, "")

				Expect(session.TryAuth(ctx)).To(BeFalse())
				Expect(session.Token()).To(BeEmpty())
			})
		})
	})

	Describe("ExtractToken", func() {
		It("should read every known top-level key", func() {
			for _, key := range []string{"token", "access_token", "accessToken", "jwt"} {
				Expect(backend.ExtractToken(map[string]any{key: "tok"})).To(Equal("tok"))
			}
		})

		It("should read nested data payloads", func() {
			body := map[string]any{"data": map[string]any{"access_token": "tok"}}
			Expect(backend.ExtractToken(body)).To(Equal("tok"))
		})

		It("should return empty for unrecognized shapes", func() {
			Expect(backend.ExtractToken(map[string]any{"user": "alice"})).To(BeEmpty())
			Expect(backend.ExtractToken([]any{"tok"})).To(BeEmpty())
			Expect(backend.ExtractToken(nil)).To(BeEmpty())
		})
	})
})
