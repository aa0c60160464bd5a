package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskloom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDefaultEngineConfig_IsValid(t *testing.T) {
	cfg := DefaultEngineConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.2, cfg.Selection.SummaryReserveRatio)
	assert.Equal(t, 0.7, cfg.Selection.HighValueThreshold)
	assert.Equal(t, 8000, cfg.Sessions.ContextLimitTokens)
	assert.Equal(t, 60*time.Minute, cfg.Sessions.InactivityTimeout)
	assert.Equal(t, 4000, cfg.Preview.DefaultMaxTokens)
	assert.Equal(t, 20*time.Second, cfg.Summarizer.Timeout)
	assert.Equal(t, time.UTC, cfg.Sessions.Location())
}

func TestDefaultEngineConfig_ReturnsFreshMaps(t *testing.T) {
	a := DefaultEngineConfig()
	b := DefaultEngineConfig()

	a.Scoring.LaneBonus[models.LaneVision] = 0.9
	assert.Equal(t, 0.0, b.Scoring.LaneBonus[models.LaneVision])
}

func TestLoadEngineConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadEngineConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultEngineConfig(), cfg)
}

func TestLoadEngineConfig_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	yamlDoc := `
sessions:
  context_limit_tokens: 12000
  inactivity_timeout: 45m
summarizer:
  fallback_snippet_chars: 120
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	cfg, err := LoadEngineConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 12000, cfg.Sessions.ContextLimitTokens)
	assert.Equal(t, 45*time.Minute, cfg.Sessions.InactivityTimeout)
	assert.Equal(t, 120, cfg.Summarizer.FallbackSnippetChars)

	// untouched sections keep their defaults
	assert.Equal(t, 0.2, cfg.Selection.SummaryReserveRatio)
	assert.Equal(t, 3, cfg.Summarizer.FallbackItems)
	assert.Equal(t, 4000, cfg.Preview.DefaultMaxTokens)
}

func TestLoadEngineConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name        string
		content     string
		wantInvalid bool
	}{
		{"malformed yaml", "sessions: [", false},
		{"reserve ratio above one", "selection:\n  summary_reserve_ratio: 1.5\n", true},
		{"negative threshold", "selection:\n  high_value_threshold: -0.1\n", true},
		{"zero context limit", "sessions:\n  context_limit_tokens: 0\n", true},
		{"unknown location", "sessions:\n  day_boundary_location: Mars/Olympus\n", true},
		{"unordered recency tiers", "scoring:\n  recency_tiers:\n    - {max_age: 48h, bonus: 0.1}\n    - {max_age: 24h, bonus: 0.2}\n", true},
		{"increasing recency bonus", "scoring:\n  recency_tiers:\n    - {max_age: 24h, bonus: 0.0}\n    - {max_age: 168h, bonus: 0.2}\n", true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "engine-"+string(rune('a'+i))+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := LoadEngineConfig(path)
			require.Error(t, err)
			assert.Equal(t, tt.wantInvalid, errors.Is(err, ErrInvalidEngineConfig))
		})
	}
}

func TestLoadEngineConfig_FlatRecencyTiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := "scoring:\n  recency_tiers:\n    - {max_age: 24h, bonus: 0.1}\n    - {max_age: 168h, bonus: 0.1}\n    - {max_age: 720h, bonus: 0}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadEngineConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Scoring.RecencyTiers, 3)
	assert.Equal(t, 168*time.Hour, cfg.Scoring.RecencyTiers[1].MaxAge)
}

func TestLoadEngineConfig_MissingFile(t *testing.T) {
	_, err := LoadEngineConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEngineConfigStore_ReloadKeepsPreviousOnError(t *testing.T) {
	store := NewEngineConfigStore(nil)
	before := store.Get()

	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("selection:\n  summary_reserve_ratio: 7\n"), 0o644))

	assert.Error(t, store.Reload(path))
	assert.Same(t, before, store.Get())

	require.NoError(t, os.WriteFile(path, []byte("selection:\n  summary_reserve_ratio: 0.3\n"), 0o644))
	require.NoError(t, store.Reload(path))
	assert.Equal(t, 0.3, store.Get().Selection.SummaryReserveRatio)
}

func TestWatchEngineConfig_ReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sessions:\n  context_limit_tokens: 9000\n"), 0o644))

	store := NewEngineConfigStore(nil)
	reloaded := make(chan int, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchEngineConfig(ctx, path, store, func(cfg *EngineConfig) {
			reloaded <- cfg.Sessions.ContextLimitTokens
		})
	}()

	// give the watcher time to register the directory
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("sessions:\n  context_limit_tokens: 9500\n"), 0o644))

	select {
	case limit := <-reloaded:
		assert.Equal(t, 9500, limit)
	case <-time.After(5 * time.Second):
		t.Fatal("tunables were not reloaded")
	}
	assert.Equal(t, 9500, store.Get().Sessions.ContextLimitTokens)

	cancel()
	require.NoError(t, <-done)
}
