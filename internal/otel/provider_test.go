package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tankclash/matchcore/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutSinks(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "matchcore"})

	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestProvider_ZeroValueIsDisabled(t *testing.T) {
	var p Provider
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Flush(context.Background()))
}

func TestNew_FileExporter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "matchcore",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
	})
	require.NoError(t, err)

	require.NotNil(t, p.LoggerProvider())
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestFromConfig(t *testing.T) {
	var buf bytes.Buffer
	p, err := FromConfig(config.OTelConfig{Enabled: true, ServiceName: "matchcore", BatchTimeout: time.Second}, &buf)
	require.NoError(t, err)

	assert.True(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}
