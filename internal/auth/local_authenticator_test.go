package auth_test

import (
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gradebook/records-api/internal/auth"
	"github.com/gradebook/records-api/internal/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const secret = "test-secret"

var teacher = auth.User{ID: "teacher-1", Username: "mrs.k", Role: auth.RoleTeacher}

var _ = Describe("local authentication", func() {
	Context("tokens", func() {
		It("authenticates a token it issued", func() {
			token, err := auth.GenerateToken(secret, teacher, time.Hour)
			Expect(err).To(BeNil())

			authenticator, err := auth.NewLocalAuthenticator(secret)
			Expect(err).To(BeNil())
			user, err := authenticator.Authenticate(token)
			Expect(err).To(BeNil())
			Expect(user).To(Equal(teacher))
		})

		It("rejects a token signed with another secret", func() {
			token, _ := auth.GenerateToken("other", teacher, time.Hour)
			authenticator, _ := auth.NewLocalAuthenticator(secret)
			_, err := authenticator.Authenticate(token)
			Expect(err).ToNot(BeNil())
		})

		It("rejects an expired token", func() {
			token, _ := auth.GenerateToken(secret, teacher, -time.Minute)
			authenticator, _ := auth.NewLocalAuthenticator(secret)
			_, err := authenticator.Authenticate(token)
			Expect(err).ToNot(BeNil())
		})

		It("rejects a token using another signing method", func() {
			token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x", "role": auth.RoleAdmin, "exp": time.Now().Add(time.Hour).Unix()})
			raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
			Expect(err).To(BeNil())

			authenticator, _ := auth.NewLocalAuthenticator(secret)
			_, err = authenticator.Authenticate(raw)
			Expect(err).ToNot(BeNil())
		})

		It("requires a secret", func() {
			_, err := auth.NewLocalAuthenticator("")
			Expect(err).ToNot(BeNil())
		})
	})

	Context("middleware", func() {
		var authenticator auth.Authenticator

		BeforeEach(func() {
			var err error
			authenticator, err = auth.NewAuthenticator(config.Auth{AuthenticationType: auth.LocalAuthentication, JWTSecret: secret})
			Expect(err).To(BeNil())
		})

		serve := func(h http.Handler, token string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			return rr
		}

		It("puts the user in the request context", func() {
			var seen auth.User
			h := authenticator.Authenticator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = auth.MustHaveUser(r.Context())
			}))

			token, _ := auth.GenerateToken(secret, teacher, time.Hour)
			rr := serve(h, token)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(seen).To(Equal(teacher))
		})

		It("answers 401 without a token", func() {
			h := authenticator.Authenticator(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
			Expect(serve(h, "").Code).To(Equal(http.StatusUnauthorized))
			Expect(serve(h, "garbage").Code).To(Equal(http.StatusUnauthorized))
		})

		It("enforces roles", func() {
			ok := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
			h := authenticator.Authenticator(auth.RequireRole(auth.RoleTeacher)(ok))

			student, _ := auth.GenerateToken(secret, auth.User{ID: "2023001", Username: "2023001", Role: auth.RoleStudent}, time.Hour)
			Expect(serve(h, student).Code).To(Equal(http.StatusForbidden))

			t, _ := auth.GenerateToken(secret, teacher, time.Hour)
			Expect(serve(h, t).Code).To(Equal(http.StatusOK))

			admin, _ := auth.GenerateToken(secret, auth.User{ID: "root", Username: "root", Role: auth.RoleAdmin}, time.Hour)
			Expect(serve(h, admin).Code).To(Equal(http.StatusOK))
		})
	})

	Context("none authentication", func() {
		It("acts as an admin", func() {
			authenticator, err := auth.NewAuthenticator(config.Auth{AuthenticationType: auth.NoneAuthentication})
			Expect(err).To(BeNil())

			var seen auth.User
			h := authenticator.Authenticator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = auth.MustHaveUser(r.Context())
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
			Expect(seen.IsAdmin()).To(BeTrue())
			Expect(seen.CanAccess("anyone")).To(BeTrue())
		})
	})
})
