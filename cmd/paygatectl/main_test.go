package main

import (
	"path/filepath"
	"testing"

	"github.com/arbfeed/paygate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntryID(t *testing.T) {
	tests := []struct {
		arg     string
		want    int64
		wantErr bool
	}{
		{"1", 1, false},
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parseEntryID(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInitCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	cmd := initCmd()
	cmd.SetArgs([]string{"--environment", "test"})
	require.NoError(t, cmd.Execute())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Environment)
	assert.False(t, cfg.IsProduction())

	cmd = initCmd()
	cmd.SetArgs(nil)
	assert.Error(t, cmd.Execute())

	cmd = initCmd()
	cmd.SetArgs([]string{"--force"})
	require.NoError(t, cmd.Execute())
}

func TestHashKeyCmd(t *testing.T) {
	cmd := hashKeyCmd()
	cmd.SetArgs([]string{"secret"})
	assert.NoError(t, cmd.Execute())

	cmd = hashKeyCmd()
	cmd.SetArgs(nil)
	assert.Error(t, cmd.Execute())
}
