package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authRouter(a *Authenticator) *gin.Engine {
	router := setupTestRouter()
	router.Use(Auth(a))
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return router
}

func TestAuthBearerToken(t *testing.T) {
	a := NewAuthenticator("secret", "appshare", false)
	token, err := a.Issue("alice", time.Hour)
	require.NoError(t, err)

	expired, err := a.Issue("alice", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthenticator("other", "appshare", false).Issue("alice", time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := NewAuthenticator("secret", "someone-else", false).Issue("alice", time.Hour)
	require.NoError(t, err)
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantUser   string
	}{
		{"valid header", "Bearer " + token, "", http.StatusOK, "alice"},
		{"lowercase scheme", "bearer " + token, "", http.StatusOK, "alice"},
		{"query token", "", "?token=" + token, http.StatusOK, "alice"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + token, "", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + foreign, "", http.StatusUnauthorized, ""},
		{"wrong issuer", "Bearer " + wrongIssuer, "", http.StatusUnauthorized, ""},
		{"alg none", "Bearer " + noneAlg, "", http.StatusUnauthorized, ""},
	}

	router := authRouter(a)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantUser != "" {
				assert.Equal(t, tt.wantUser, w.Body.String())
			}
		})
	}
}

func TestAuthDisabledTrustsUserHeader(t *testing.T) {
	router := authRouter(NewAuthenticator("", "", true))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(UserHeader, "bob")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "bob", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/whoami?user=carol", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "carol", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, AnonymousUser, w.Body.String())
}
