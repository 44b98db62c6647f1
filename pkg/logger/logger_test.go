package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igfeed/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{name: "info level", cfg: &config.LoggingConfig{Level: "info"}},
		{name: "debug level json", cfg: &config.LoggingConfig{Level: "debug", Format: "json"}},
		{name: "invalid level", cfg: &config.LoggingConfig{Level: "invalid"}, wantErr: true},
		{name: "file output", cfg: &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "igfeed.log")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"chatty", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := newWithWriter(&config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	l.WithField("identity", "acc1").
		WithError(errors.New("boom")).
		InfoWithFields("login finished", map[string]interface{}{
			"from_token": true,
			"elapsed":    2 * time.Second,
		})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "login finished", entry["message"])
	assert.Equal(t, "acc1", entry["identity"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, true, entry["from_token"])
	assert.Equal(t, "igfeed", entry["app"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := newWithWriter(&config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "igfeed.log")
	var console bytes.Buffer
	l, err := newWithWriter(&config.LoggingConfig{Level: "info", File: path, NoColor: true}, &console)
	require.NoError(t, err)

	l.Info("to both")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"to both"`)
	assert.Contains(t, console.String(), "to both")
}

func TestWithFieldsDoesNotLeakToParent(t *testing.T) {
	var buf bytes.Buffer
	parent, err := newWithWriter(&config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	_ = parent.WithField("target", "alice")
	parent.Info("plain")

	assert.NotContains(t, buf.String(), "alice")
}

func TestHelpers(t *testing.T) {
	tl := NewTestLogger()

	LogIngest(tl, "alice", "p1", "inserted", nil)
	LogIngest(tl, "alice", "p2", "skipped_error", errors.New("gone"))
	LogDeactivation(tl, "acc1", "invalid credentials")
	LogPause(tl, "fetch", time.Minute)

	assert.True(t, tl.HasMessage("Item saved"))
	assert.True(t, tl.HasMessage("Item skipped after error"))
	assert.Len(t, tl.GetMessagesByLevel("ERROR"), 1)

	msgs := tl.GetMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "acc1", msgs[2].Fields["identity"])
	assert.Equal(t, "gone", msgs[1].Fields["error"])
	assert.Equal(t, time.Minute, msgs[3].Fields["duration"])
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.WithField("k", "v").WithError(errors.New("x")).Info("nothing")
	})
}
