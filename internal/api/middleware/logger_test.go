package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/stream-planner/pkg/logger"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	previous := logger.Logger
	t.Cleanup(func() { logger.Logger = previous })

	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	logger.Logger = log
	return &buf
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name      string
		path      string
		status    int
		wantLevel string
		wantMsg   string
	}{
		{"success", "/api/v1/week?verbose=1", http.StatusOK, "info", "Request completed"},
		{"client error", "/api/v1/week", http.StatusBadRequest, "warning", "Client Error"},
		{"server error", "/api/v1/week", http.StatusInternalServerError, "error", "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)

			router := gin.New()
			router.Use(RequestLogger())
			router.GET("/api/v1/week", func(c *gin.Context) {
				c.Status(tt.status)
			})

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("User-Agent", "planner-test")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			require.Equal(t, tt.status, w.Code)

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.wantMsg, entry["msg"])
			assert.Equal(t, "GET", entry["http_method"])
			assert.Equal(t, "/api/v1/week", entry["http_path"])
			assert.Equal(t, "planner-test", entry["http_user_agent"])
			assert.Equal(t, float64(tt.status), entry["status"])
			if strings.Contains(tt.path, "?") {
				assert.Equal(t, "verbose=1", entry["query"])
			} else {
				assert.NotContains(t, entry, "query")
			}
		})
	}
}
