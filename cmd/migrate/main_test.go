package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	upSteps   []int
	downSteps []int
	version   int64
	applied   int
	err       error
}

func (m *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	m.upSteps = append(m.upSteps, steps)
	return m.err
}

func (m *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	m.downSteps = append(m.downSteps, steps)
	return m.err
}

func (m *fakeMigrator) MigrationStatus(context.Context) (int64, int, error) {
	return m.version, m.applied, nil
}

func lookupFrom(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		want    options
		wantErr string
	}{
		{
			name: "defaults with env dsn",
			env:  map[string]string{envPostgresDSN: " postgres://env "},
			want: options{direction: "up", dsn: "postgres://env"},
		},
		{
			name: "flag dsn wins",
			args: []string{"-direction=Down", "-steps=2", "-dsn=postgres://flag"},
			env:  map[string]string{envPostgresDSN: "postgres://env"},
			want: options{direction: "down", steps: 2, dsn: "postgres://flag"},
		},
		{name: "missing dsn", args: []string{"-direction=status"}, wantErr: "is required"},
		{name: "bad direction", args: []string{"-direction=sideways", "-dsn=x"}, wantErr: "unsupported direction"},
		{name: "negative steps", args: []string{"-steps=-1", "-dsn=x"}, wantErr: "must not be negative"},
		{name: "unknown flag", args: []string{"-force"}, wantErr: "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptions(tt.args, lookupFrom(tt.env))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun(t *testing.T) {
	t.Run("up applies all by default", func(t *testing.T) {
		m := &fakeMigrator{version: 2, applied: 2}
		var out bytes.Buffer
		require.NoError(t, run(context.Background(), m, options{direction: "up"}, &out))
		assert.Equal(t, []int{0}, m.upSteps)
		assert.Equal(t, "migrate up ok: version=2 applied=2\n", out.String())
	})

	t.Run("down rolls back one by default", func(t *testing.T) {
		m := &fakeMigrator{version: 1, applied: 1}
		var out bytes.Buffer
		require.NoError(t, run(context.Background(), m, options{direction: "down"}, &out))
		assert.Equal(t, []int{1}, m.downSteps)
		assert.Contains(t, out.String(), "migrate down ok")
	})

	t.Run("status does not migrate", func(t *testing.T) {
		m := &fakeMigrator{version: 2, applied: 2}
		var out bytes.Buffer
		require.NoError(t, run(context.Background(), m, options{direction: "status"}, &out))
		assert.Empty(t, m.upSteps)
		assert.Empty(t, m.downSteps)
		assert.Equal(t, "migration status: version=2 applied=2\n", out.String())
	})

	t.Run("errors are wrapped", func(t *testing.T) {
		m := &fakeMigrator{err: errors.New("lock timeout")}
		err := run(context.Background(), m, options{direction: "up"}, &bytes.Buffer{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "migrate up failed: lock timeout")
	})
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
