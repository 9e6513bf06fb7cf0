package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kalendae/meeting-insights/internal/backend"
	"github.com/kalendae/meeting-insights/pkg/cache"
)

var _ = Describe("Repository", func() {
	var (
		ctx      context.Context
		memCache *cache.Memory
	)

	BeforeEach(func() {
		ctx = context.Background()
		memCache = cache.NewMemory()
	})

	prime := func(op backend.Operation, path string) {
		memCache.Set(ctx, cache.EndpointKey(string(op)), path, time.Hour)
	}

	newRepository := func(baseURL, queryPath string) *backend.Repository {
		client := backend.NewClient(baseURL, 2*time.Second, testLogger())
		registry := backend.NewRegistry(client, memCache, nil, time.Hour, testLogger())
		return backend.NewRepository(client, registry, queryPath, testLogger())
	}

	Describe("List", func() {
		Context("across backend payload shapes", func() {
			var (
				server *httptest.Server
				body   string
			)

			BeforeEach(func() {
				mux := http.NewServeMux()
				mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.Write([]byte(body))
				})
				server = httptest.NewServer(mux)
				DeferCleanup(server.Close)
				prime(backend.OpUsers, "/api/users")
				prime(backend.OpLogin, "/api/auth/login")
			})

			It("should read a bare array", func() {
				body = `[{"id":"u1"},{"id":"u2"}]`

				entities, err := newRepository(server.URL, "").List(ctx, "users")

				Expect(err).ToNot(HaveOccurred())
				Expect(entities).To(HaveLen(2))
			})

			It("should read an array wrapped in data", func() {
				body = `{"data":[{"id":"u1"},{"id":"u2"}]}`

				entities, err := newRepository(server.URL, "").List(ctx, "users")

				Expect(err).ToNot(HaveOccurred())
				Expect(entities).To(HaveLen(2))
			})

			It("should read a single entity wrapped in data", func() {
				body = `{"data":{"id":"u1"}}`

				entities, err := newRepository(server.URL, "").List(ctx, "users")

				Expect(err).ToNot(HaveOccurred())
				Expect(entities).To(HaveLen(1))
				Expect(backend.EntityID(entities[0])).To(Equal("u1"))
			})

			It("should read a bare entity", func() {
				body = `{"id":"u1","email":"a@b.com"}`

				entities, err := newRepository(server.URL, "").List(ctx, "users")

				Expect(err).ToNot(HaveOccurred())
				Expect(entities).To(HaveLen(1))
			})
		})

		Context("when only an alternate path convention answers", func() {
			It("should find it and memorize the working path", func() {
				mux := http.NewServeMux()
				mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
					w.Write([]byte(`[{"id":"u1"}]`))
				})
				server := httptest.NewServer(mux)
				DeferCleanup(server.Close)
				prime(backend.OpUsers, "/api/users")
				prime(backend.OpLogin, "/api/auth/login")

				entities, err := newRepository(server.URL, "").List(ctx, "users")

				Expect(err).ToNot(HaveOccurred())
				Expect(entities).To(HaveLen(1))

				memorized, _ := memCache.Get(ctx, cache.EndpointKey("users"))
				Expect(memorized).To(Equal("/users"))
			})
		})
	})

	Describe("GetByID", func() {
		var server *httptest.Server

		BeforeEach(func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`[{"id":"u1","email":"alice@acme.com"}]`))
			})
			mux.HandleFunc("/api/users/", func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, "/u1") {
					w.Write([]byte(`{"id":"u1","email":"alice@acme.com"}`))
					return
				}
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error":"not found"}`))
			})
			server = httptest.NewServer(mux)
			DeferCleanup(server.Close)
			prime(backend.OpUsers, "/api/users")
			prime(backend.OpLogin, "/api/auth/login")
		})

		It("should fetch the entity by path", func() {
			entity, err := newRepository(server.URL, "").GetByID(ctx, "users", "u1")

			Expect(err).ToNot(HaveOccurred())
			Expect(entity).ToNot(BeNil())
			Expect(entity["email"]).To(Equal("alice@acme.com"))
		})

		It("should return nil without error when the entity is definitively absent", func() {
			entity, err := newRepository(server.URL, "").GetByID(ctx, "users", "u-missing")

			Expect(err).ToNot(HaveOccurred())
			Expect(entity).To(BeNil())
		})

		It("should fail when no strategy reaches the backend", func() {
			server.Close()

			_, err := newRepository(server.URL, "").GetByID(ctx, "users", "u1")

			Expect(err).To(HaveOccurred())
		})
	})

	Describe("FindOne", func() {
		It("should use the discovered parametrized route for email filters", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/users/email/", func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, "/alice@acme.com") {
					w.Write([]byte(`{"data":{"id":"u1","email":"alice@acme.com"}}`))
					return
				}
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error":"not found"}`))
			})
			mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`[]`))
			})
			server := httptest.NewServer(mux)
			DeferCleanup(server.Close)
			prime(backend.OpUsers, "/api/users")
			prime(backend.OpLogin, "/api/auth/login")
			prime(backend.OpUserByEmail, "/api/users/email/{email}")

			entity, err := newRepository(server.URL, "").FindOne(ctx, "users", map[string]any{"email": "alice@acme.com"})

			Expect(err).ToNot(HaveOccurred())
			Expect(entity).ToNot(BeNil())
			Expect(backend.EntityID(entity)).To(Equal("u1"))
		})

		It("should fall back to a full scan when the parametrized route misses", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/users/email/", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error":"not found"}`))
			})
			mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`[{"id":"u1","email":"alice@acme.com"},{"id":"u2","email":"bob@acme.com"}]`))
			})
			server := httptest.NewServer(mux)
			DeferCleanup(server.Close)
			prime(backend.OpUsers, "/api/users")
			prime(backend.OpLogin, "/api/auth/login")
			prime(backend.OpUserByEmail, "/api/users/email/{email}")

			entity, err := newRepository(server.URL, "").FindOne(ctx, "users", map[string]any{"email": "bob@acme.com"})

			Expect(err).ToNot(HaveOccurred())
			Expect(entity).ToNot(BeNil())
			Expect(backend.EntityID(entity)).To(Equal("u2"))
		})

		It("should return nil without error when nothing matches anywhere", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`[{"id":"u1","email":"alice@acme.com"}]`))
			})
			server := httptest.NewServer(mux)
			DeferCleanup(server.Close)
			prime(backend.OpUsers, "/api/users")
			prime(backend.OpLogin, "/api/auth/login")

			entity, err := newRepository(server.URL, "").FindOne(ctx, "users", map[string]any{"email": "nobody@acme.com"})

			Expect(err).ToNot(HaveOccurred())
			Expect(entity).To(BeNil())
		})

		It("should prefer the dedicated query endpoint when configured", func() {
			var gotFilter map[string]any
			mux := http.NewServeMux()
			mux.HandleFunc("/api/query", func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				json.NewDecoder(r.Body).Decode(&body)
				gotFilter, _ = body["filter"].(map[string]any)
				w.Write([]byte(`{"data":[{"id":"u1","email":"alice@acme.com"}]}`))
			})
			server := httptest.NewServer(mux)
			DeferCleanup(server.Close)
			prime(backend.OpUsers, "/api/users")
			prime(backend.OpLogin, "/api/auth/login")

			entity, err := newRepository(server.URL, "/api/query").FindOne(ctx, "users", map[string]any{"email": "alice@acme.com"})

			Expect(err).ToNot(HaveOccurred())
			Expect(entity).ToNot(BeNil())
			Expect(gotFilter).To(HaveKeyWithValue("email", "alice@acme.com"))
		})
	})

	Describe("Create", func() {
		It("should post the entity and return the backend's version", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
				var entity map[string]any
				json.NewDecoder(r.Body).Decode(&entity)
				entity["id"] = "u-new"
				json.NewEncoder(w).Encode(entity)
			})
			server := httptest.NewServer(mux)
			DeferCleanup(server.Close)
			prime(backend.OpUsers, "/api/users")
			prime(backend.OpLogin, "/api/auth/login")

			created, err := newRepository(server.URL, "").Create(ctx, "users", backend.Entity{"email": "carol@acme.com"})

			Expect(err).ToNot(HaveOccurred())
			Expect(backend.EntityID(created)).To(Equal("u-new"))
			Expect(created["email"]).To(Equal("carol@acme.com"))
		})
	})

	Describe("EntityID", func() {
		It("should read both identifier conventions", func() {
			Expect(backend.EntityID(backend.Entity{"_id": "abc"})).To(Equal("abc"))
			Expect(backend.EntityID(backend.Entity{"id": "abc"})).To(Equal("abc"))
			Expect(backend.EntityID(backend.Entity{"_id": "mongo", "id": "rest"})).To(Equal("mongo"))
		})

		It("should format JSON numeric ids without a fraction", func() {
			Expect(backend.EntityID(backend.Entity{"id": float64(42)})).To(Equal("42"))
		})

		It("should return empty when no id field exists", func() {
			Expect(backend.EntityID(backend.Entity{"email": "a@b.com"})).To(BeEmpty())
		})
	})
})
