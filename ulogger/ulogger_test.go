package ulogger_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
	"github.com/ordishs/gocore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerJSON(t *testing.T) {
	var buf bytes.Buffer

	logger := ulogger.New("node", ulogger.WithWriter(&buf), ulogger.WithPretty(false), ulogger.WithLevel("DEBUG"))
	logger.Debugf("block %d received", 12)

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "node", entry["service"])
	assert.Equal(t, "block 12 received", entry["message"])
}

func TestZeroLoggerLevels(t *testing.T) {
	var buf bytes.Buffer

	logger := ulogger.NewZeroLogger("lsm", ulogger.WithWriter(&buf), ulogger.WithPretty(false), ulogger.WithLevel("WARN"))
	assert.Equal(t, int(gocore.WARN), logger.LogLevel())

	logger.Infof("hidden")
	assert.Empty(t, buf.String())

	logger.Warnf("shown")
	assert.Contains(t, buf.String(), "shown")

	logger.SetLogLevel("debug")
	assert.Equal(t, int(gocore.DEBUG), logger.LogLevel())

	logger.SetLogLevel("bogus")
	assert.Equal(t, int(gocore.INFO), logger.LogLevel())
}

func TestZeroLoggerChild(t *testing.T) {
	var buf bytes.Buffer

	parent := ulogger.New("node", ulogger.WithWriter(&buf), ulogger.WithPretty(false), ulogger.WithLevel("ERROR"))
	child := parent.New("vm")
	assert.Equal(t, parent.LogLevel(), child.LogLevel())

	child.Errorf("boom")
	assert.Contains(t, buf.String(), `"service":"vm"`)

	dup := parent.Duplicate(ulogger.WithLevel("DEBUG"))
	assert.Equal(t, int(gocore.DEBUG), dup.LogLevel())
}

func TestPrettyLoggerWritesToWriter(t *testing.T) {
	var buf bytes.Buffer

	logger := ulogger.New("store", ulogger.WithWriter(&buf))
	logger.Infof("flushed %d entries", 3)
	assert.Contains(t, buf.String(), "flushed 3 entries")
	assert.Contains(t, buf.String(), "store")
}

func TestGoCoreLogger(t *testing.T) {
	logger := ulogger.New("gc", ulogger.WithLoggerType("gocore"), ulogger.WithLevel("DEBUG"))
	require.NotNil(t, logger)

	_, ok := logger.(*ulogger.GoCoreLogger)
	require.True(t, ok)

	assert.NotNil(t, logger.New("child"))
	assert.NotNil(t, logger.Duplicate(ulogger.WithSkipFrame(1)))
}

func TestTestLogger(t *testing.T) {
	var logger ulogger.Logger = ulogger.TestLogger{}

	logger.Errorf("ignored %d", 1)
	assert.Equal(t, 0, logger.LogLevel())
	assert.Equal(t, logger, logger.New("x"))
}

type recordingT struct {
	errors []string
	logs   []string
}

func (r *recordingT) Errorf(format string, _ ...interface{}) { r.errors = append(r.errors, format) }
func (r *recordingT) FailNow() {}
func (r *recordingT) Logf(format string, _ ...any) { r.logs = append(r.logs, format) }

func TestErrorTestLogger(t *testing.T) {
	rt := &recordingT{}
	logger := ulogger.NewErrorTestLogger(rt)

	logger.Infof("fine")
	logger.Errorf("bad")
	require.Len(t, rt.errors, 1)

	logger.SkipFailOnError(true)
	logger.Errorf("expected")
	require.Len(t, rt.errors, 1)
	require.Len(t, rt.logs, 1)

	logger.Shutdown()
	logger.Fatalf("after shutdown")
	require.Len(t, rt.errors, 1)
}

func TestVerboseTestLogger(t *testing.T) {
	logger := ulogger.NewVerboseTestLogger(t)
	child := logger.New("node")
	child.Infof("hello %s", "world")
	child.Debugf("debug")
	assert.Equal(t, 0, child.LogLevel())
}
