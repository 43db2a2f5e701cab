package main

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	t.Cleanup(func() {
		log.SetFormatter(&log.TextFormatter{})
		log.SetLevel(log.InfoLevel)
	})

	tests := []struct {
		name    string
		level   string
		format  string
		want    log.Level
		wantErr bool
	}{
		{name: "text info", level: "info", format: "text", want: log.InfoLevel},
		{name: "json debug", level: "debug", format: "JSON", want: log.DebugLevel},
		{name: "empty format is text", level: "warn", format: "", want: log.WarnLevel},
		{name: "bad level", level: "loud", format: "text", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := setupLogger(tt.level, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, log.GetLevel())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MARKETPAY_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("MARKETPAY_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("MARKETPAY_TEST_DOTENV"))

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("MARKETPAY_TEST_DOTENV"))
}
