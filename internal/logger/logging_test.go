package logger

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	l, err := Parse("test", "debug", "json")
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, l.GetLevel())

	l, err = Parse("test", "WARN", "")
	require.NoError(t, err)
	assert.Equal(t, log.WarnLevel, l.GetLevel())

	_, err = Parse("test", "loud", "text")
	assert.Error(t, err)
	_, err = Parse("test", "info", "xml")
	assert.Error(t, err)
}

func TestNewWithConfigWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig(&buf, "shortwords", log.InfoLevel, false, false, log.JSONFormatter)
	l.Info("loaded", "count", 3)
	l.Debug("hidden")
	assert.Contains(t, buf.String(), `"msg":"loaded"`)
	assert.Contains(t, buf.String(), `"count":3`)
	assert.NotContains(t, buf.String(), "hidden")
}

func TestDiscardDropsEverything(t *testing.T) {
	l := Discard()
	require.NotNil(t, l)
	l.Error("ignored", "err", assert.AnError)
}
