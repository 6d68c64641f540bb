package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfcbot/lfc/internal/core"
	"github.com/lfcbot/lfc/internal/envelope"
)

func TestCatalog_RegisterLookup(t *testing.T) {
	c := NewCatalog()
	c.Register("B", func(context.Context, *envelope.Conn, Env) error { return nil })
	c.Register("A", func(context.Context, *envelope.Conn, Env) error { return nil })

	_, err := c.Lookup("A")
	assert.NoError(t, err)
	assert.True(t, c.Has("B"))
	assert.Equal(t, []string{"A", "B"}, c.Names())

	_, err = c.Lookup("Missing")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatModuleNotFound))
	assert.False(t, c.Has("Missing"))
}

func TestDecodeConfig(t *testing.T) {
	var out struct {
		Port    int           `mapstructure:"port"`
		Path    string        `mapstructure:"database_path"`
		Timeout time.Duration `mapstructure:"timeout"`
	}
	err := DecodeConfig(map[string]interface{}{
		"port":          float64(5001),
		"database_path": "/tmp/h.db",
		"timeout":       "5s",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 5001, out.Port)
	assert.Equal(t, "/tmp/h.db", out.Path)
	assert.Equal(t, 5*time.Second, out.Timeout)
}

func TestDecodeConfig_Invalid(t *testing.T) {
	var out struct {
		Port int `mapstructure:"port"`
	}
	err := DecodeConfig(map[string]interface{}{"port": "not-a-number"}, &out)
	require.Error(t, err)
	var de *core.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, core.CodeInvalidConfig, de.Code)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(ConfigEnvVar, "")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Empty(t, cfg)

	raw, err := EncodeConfig(map[string]interface{}{"port": 5000})
	require.NoError(t, err)
	t.Setenv(ConfigEnvVar, raw)
	cfg, err = ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, float64(5000), cfg["port"])

	t.Setenv(ConfigEnvVar, "{not json")
	_, err = ConfigFromEnv()
	assert.Error(t, err)
}
