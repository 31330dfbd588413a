package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Addr    string   `json:"addr"`
	Timeout Duration `json:"timeout"`
}

func (c *testConfig) Validate() error {
	if c.Addr == "" {
		c.Addr = ":8000"
	}

	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `{"addr": ":9000", "timeout": "5m"}`)

	var cfg testConfig
	require.NoError(t, LoadFile(path, &cfg))

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, Duration(5*time.Minute), cfg.Timeout)
}

func TestLoadFileMissing(t *testing.T) {
	var cfg testConfig

	err := LoadFile(filepath.Join(t.TempDir(), "nope.json"), &cfg)
	assert.Error(t, err)
}

func TestLoadFileMalformed(t *testing.T) {
	path := writeConfig(t, `{not json`)

	var cfg testConfig

	err := LoadFile(path, &cfg)
	assert.Error(t, err)
}

func TestLoadAndValidateFillsDefaults(t *testing.T) {
	path := writeConfig(t, `{"timeout": "2s"}`)

	var cfg testConfig
	require.NoError(t, LoadAndValidate(path, &cfg))

	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, Duration(2*time.Second), cfg.Timeout)
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Duration
		wantErr bool
	}{
		{"duration string", `"90s"`, Duration(90 * time.Second), false},
		{"numeric nanoseconds", `2000000000`, Duration(2 * time.Second), false},
		{"garbage string", `"not-a-duration"`, 0, true},
		{"wrong type", `[1, 2]`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration

			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.ErrorIs(t, err, errInvalidDuration)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestDurationMarshalRoundTrip(t *testing.T) {
	data, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var d Duration
	require.NoError(t, json.Unmarshal(data, &d))
	assert.Equal(t, Duration(90*time.Second), d)
}
