package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ContextUserID is the gin context key holding the authenticated user
	ContextUserID = "user_id"
	// UserHeader names the caller when authentication is disabled
	UserHeader = "X-User-ID"
	// AnonymousUser is used when authentication is disabled and no user is named
	AnonymousUser = "anonymous"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Authenticator verifies HS256 bearer tokens. The token subject is the
// user id.
type Authenticator struct {
	secret   []byte
	issuer   string
	disabled bool
}

// NewAuthenticator creates an authenticator. When disabled, callers are
// trusted to name themselves in the X-User-ID header.
func NewAuthenticator(secret, issuer string, disabled bool) *Authenticator {
	return &Authenticator{
		secret:   []byte(secret),
		issuer:   issuer,
		disabled: disabled,
	}
}

// Issue signs a token for user, valid for ttl
func (a *Authenticator) Issue(user string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses a token and returns its subject
func (a *Authenticator) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Authenticate resolves the user behind a request. Browsers cannot set
// headers on a WebSocket upgrade, so the token may also come as the token
// query parameter.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if a.disabled {
		if user := strings.TrimSpace(r.Header.Get(UserHeader)); user != "" {
			return user, nil
		}
		if user := r.URL.Query().Get("user"); user != "" {
			return user, nil
		}
		return AnonymousUser, nil
	}

	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", ErrInvalidToken
		}
		token = strings.TrimSpace(value)
	}
	if token == "" {
		return "", ErrMissingToken
	}
	return a.Verify(token)
}

// Auth rejects unauthenticated requests and stores the user in the context
func Auth(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   err.Error(),
			})
			return
		}
		c.Set(ContextUserID, user)
		c.Next()
	}
}

// UserID returns the user stored by Auth
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
