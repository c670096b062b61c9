package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultUpstream, cfg.Upstream.String())
	assert.Equal(t, DefaultHTTPPort, cfg.HTTPPort)
	assert.Equal(t, DefaultHTTPSPort, cfg.HTTPSPort)
	assert.False(t, cfg.EnableControlPipe)
	assert.Empty(t, cfg.CtrlFile)
}

func TestParseOverridesFlags(t *testing.T) {
	cfg, err := Parse([]string{
		"--proxy", "10.0.0.1:1081",
		"--http-port", "9090",
		"--https-port", "9443",
		"--rule-file", "/etc/harmonygate/rules.json",
		"--fwmark", "42",
		"--debug",
	})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:1081", cfg.Upstream.String())
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 9443, cfg.HTTPSPort)
	assert.Equal(t, "/etc/harmonygate/rules.json", cfg.RuleFile)
	assert.Equal(t, uint32(42), cfg.Fwmark)
	assert.True(t, cfg.Debug)
}

func TestParseShorthandProxyFlag(t *testing.T) {
	cfg, err := Parse([]string{"-x", "192.168.1.1:1080"})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1:1080", cfg.Upstream.String())
}

func TestParseRejectsInvalidUpstream(t *testing.T) {
	_, err := Parse([]string{"--proxy", "not-an-address"})
	assert.Error(t, err)
}

func TestParseControlPipeUsesEnvVar(t *testing.T) {
	t.Setenv("CTRL_FILE", "/tmp/harmonygate-test.ctrl")
	cfg, err := Parse([]string{"--enable-control-pipe"})
	require.NoError(t, err)
	assert.True(t, cfg.EnableControlPipe)
	assert.Equal(t, "/tmp/harmonygate-test.ctrl", cfg.CtrlFile)
}

func TestParseControlPipeDefaultsWithoutEnvVar(t *testing.T) {
	os.Unsetenv("CTRL_FILE")
	cfg, err := Parse([]string{"--enable-control-pipe"})
	require.NoError(t, err)
	assert.Equal(t, DefaultCtrlFile, cfg.CtrlFile)
}
