package httpkit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const testSecret = "test-secret"

type jwtConfig struct{}

func (jwtConfig) GetJWTAccessSecret() string { return testSecret }

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func newAuthEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthRequired(jwtConfig{}), func(c *gin.Context) {
		id := MustGetIdentity(c)
		if id == nil {
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id.UserID().String(), "email": id.Email()})
	})
	r.GET("/admin", AuthRequired(jwtConfig{}), RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	r := newAuthEngine()
	userID := uuid.New()
	exp := time.Now().Add(time.Hour).Unix()

	w := get(r, "/me", signToken(t, jwt.MapClaims{"sub": userID.String(), "email": "Ann@Acme.io", "exp": exp}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
	assert.Contains(t, w.Body.String(), "ann@acme.io")

	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", signToken(t, jwt.MapClaims{"sub": userID.String()})).Code, "tokens must expire")
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", signToken(t, jwt.MapClaims{"sub": "nope", "exp": exp})).Code)
}

func TestRequireRole(t *testing.T) {
	r := newAuthEngine()
	exp := time.Now().Add(time.Hour).Unix()
	sub := uuid.NewString()

	assert.Equal(t, http.StatusForbidden, get(r, "/admin", signToken(t, jwt.MapClaims{"sub": sub, "exp": exp})).Code)
	assert.Equal(t, http.StatusNoContent, get(r, "/admin", signToken(t, jwt.MapClaims{"sub": sub, "exp": exp, "roles": []string{"admin"}})).Code)
}

func TestSharedSecretAndRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	limiter := NewIPRateLimiter(rate.Limit(0), 1, nil)
	r.POST("/hook", limiter.RateLimit(), SharedSecret("X-Secret", "s3cret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	post := func(secret string) int {
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		req.Header.Set("X-Secret", secret)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusUnauthorized, post("wrong"))
	assert.Equal(t, http.StatusTooManyRequests, post("s3cret"))
}

func TestSharedSecretFailsClosed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/hook", SharedSecret("X-Secret", ""), func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, target := range []string{"/hook", "/hook?secret="} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, target, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, target)
	}
}

func TestSharedSecretIgnoresQueryParameter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/hook", SharedSecret("X-Secret", "s3cret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook?secret=s3cret", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
