package configsvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testConfig struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestLoadInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	def := testConfig{Name: "default", Count: 3}

	got, err := LoadInit(path, def)
	require.NoError(t, err)
	assert.Equal(t, def, got)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "default")

	// a second load reads the written file, not the new defaults
	again, err := LoadInit(path, testConfig{Name: "other"})
	require.NoError(t, err)
	assert.Equal(t, def, again)
}

// Absent YAML fields keep their default values, so a hand-trimmed config
// file never zeroes settings the user left out.
func TestLoadInitKeepsDefaultsForAbsentFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("name: custom\n"), 0o644))

	got, err := LoadInit(path, testConfig{Name: "default", Count: 7})
	require.NoError(t, err)
	assert.Equal(t, "custom", got.Name)
	assert.Equal(t, 7, got.Count)
}

func TestRegisterSeesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("name: one\ncount: 1\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := New(zap.NewNop())
	go func() {
		_ = svc.Start(ctx)
	}()
	select {
	case <-svc.Ready():
	case <-time.After(time.Second):
		t.Fatal("config service not ready")
	}

	changes := make(chan testConfig, 16)
	initial, err := Register(svc, path, testConfig{}, func(cfg testConfig, err error) {
		if err == nil {
			changes <- cfg
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "one", initial.Name)

	require.NoError(t, os.WriteFile(path, []byte("name: two\ncount: 2\n"), 0o644))

	// a truncate+write can fire more than one event; wait for the final value
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-changes:
			if got.Name == "two" {
				assert.Equal(t, 2, got.Count)
				return
			}
		case <-deadline:
			t.Fatal("reload callback never saw the new value")
		}
	}
}
