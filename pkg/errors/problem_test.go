package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/hangup", nil)
	c.Set("trace_id", "trace-1")

	BadGateway(c, "exchange said no")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "exchange said no", problem.Detail)
	assert.Equal(t, "trace-1", problem.TraceID)
	assert.Equal(t, "/hangup", problem.Instance)
	assert.Equal(t, problemBaseURL+"/upstream-rejected", problem.Type)
	assert.True(t, c.IsAborted())
}

func TestProblemType_Unknown(t *testing.T) {
	assert.Equal(t, problemBaseURL+"/error", ProblemType(http.StatusTeapot))
}
