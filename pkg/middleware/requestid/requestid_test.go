package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runMiddleware(t *testing.T, inbound string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	if inbound != "" {
		c.Request.Header.Set("X-Request-ID", inbound)
	}

	Middleware()(c)
	return w, Value(c)
}

func TestRequestIDGenerated(t *testing.T) {
	w, id := runMiddleware(t, "")

	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, id, w.Header().Get("X-Request-ID"))
}

func TestRequestIDReusesInbound(t *testing.T) {
	w, id := runMiddleware(t, "client-trace-42")

	assert.Equal(t, "client-trace-42", id)
	assert.Equal(t, "client-trace-42", w.Header().Get("X-Request-ID"))
}

func TestRequestIDReplacesOversizedInbound(t *testing.T) {
	_, id := runMiddleware(t, strings.Repeat("x", 200))

	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestValueOutsideMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Empty(t, Value(c))
}
