package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name          string
		logLevel      string
		envLevel      string
		development   bool
		expectedLevel logrus.Level
		expectJSON    bool
	}{
		{
			name:          "production defaults to info and json",
			expectedLevel: logrus.InfoLevel,
			expectJSON:    true,
		},
		{
			name:          "development defaults to debug and text",
			development:   true,
			expectedLevel: logrus.DebugLevel,
			expectJSON:    false,
		},
		{
			name:          "explicit level wins over environment",
			logLevel:      "warn",
			envLevel:      "debug",
			expectedLevel: logrus.WarnLevel,
			expectJSON:    true,
		},
		{
			name:          "environment level used when none given",
			envLevel:      "ERROR",
			expectedLevel: logrus.ErrorLevel,
			expectJSON:    true,
		},
		{
			name:          "invalid level falls back to info",
			logLevel:      "loud",
			expectedLevel: logrus.InfoLevel,
			expectJSON:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = nil
			t.Setenv("LOG_LEVEL", tt.envLevel)
			t.Setenv("LOG_FORMAT", "")

			log := InitLogger(tt.logLevel, tt.development)
			require.NotNil(t, log)
			assert.Equal(t, tt.expectedLevel, log.GetLevel())
			assert.Same(t, log, GetLogger(), "InitLogger should store the global logger")

			_, isJSON := log.Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tt.expectJSON, isJSON)
		})
	}
}

func TestContextHelpers(t *testing.T) {
	Logger = nil
	t.Setenv("LOG_LEVEL", "debug")
	log := InitLogger("", false)

	var buf bytes.Buffer
	log.SetOutput(&buf)

	WithWeekContext("2026-W42", 3).WithField("component", "horizon").Info("advanced")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "2026-W42", entry["week_id"])
	assert.Equal(t, float64(3), entry["day"])
	assert.Equal(t, "horizon", entry["component"])
	assert.Equal(t, "advanced", entry["msg"])

	assert.Equal(t, "POST", WithHTTPContext("POST", "/api/v1/plan/solve", "curl").Data["http_method"])
	assert.Equal(t, "stream-planner", WithService("stream-planner").Data["service"])
	assert.Equal(t, "abc", WithPlanID("abc").Data["plan_id"])
}
