package config

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/librarian/internal/core/domain"
)

type fakeSettingsRepo struct {
	values map[string]string
}

func (r *fakeSettingsRepo) GetSetting(_ context.Context, key string) (string, error) {
	return r.values[key], nil
}

func (r *fakeSettingsRepo) SaveSetting(_ context.Context, key, value string) error {
	r.values[key] = value
	return nil
}

func newStoreForTest(t *testing.T) (*SettingsStore, *fakeSettingsRepo) {
	t.Helper()
	os.Setenv("LIBRARIAN_SECRET_KEY", "store-test-key")
	t.Cleanup(func() { os.Unsetenv("LIBRARIAN_SECRET_KEY") })

	secret, err := NewSecretKey()
	require.NoError(t, err)
	repo := &fakeSettingsRepo{values: map[string]string{}}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := NewSettingsStore(logger, repo, secret)
	require.NoError(t, err)
	return store, repo
}

func TestSettingsStoreStartsWithDefaults(t *testing.T) {
	store, _ := newStoreForTest(t)

	cfg := store.GetConfig()
	assert.Equal(t, "local", cfg.Providers.LLM.Mode)
	assert.Equal(t, 20, cfg.Loop.MaxToolIterations)
	assert.Equal(t, 3, cfg.Loop.TopCandidates)
}

func TestSettingsStoreEncryptsAPIKeyAtRest(t *testing.T) {
	store, repo := newStoreForTest(t)

	update := store.GetConfig()
	update.Providers.LLM.Mode = "remote"
	update.Providers.LLM.RemoteURL = "https://api.example.com/v1"
	update.Providers.LLM.APIKey = "sk-secret-value"
	require.NoError(t, store.UpdateConfig(context.Background(), update))

	assert.NotContains(t, repo.values["app_config"], "sk-secret-value")
	assert.Contains(t, repo.values["app_config"], "enc:")
	assert.Equal(t, "sk-secret-value", store.GetConfig().Providers.LLM.APIKey)
	assert.Equal(t, "****alue", store.GetMaskedConfig().Providers.LLM.APIKey)
}

func TestSettingsStoreMaskedUpdateKeepsExistingKey(t *testing.T) {
	store, _ := newStoreForTest(t)

	first := store.GetConfig()
	first.Providers.LLM.Mode = "remote"
	first.Providers.LLM.RemoteURL = "https://api.example.com/v1"
	first.Providers.LLM.APIKey = "sk-original"
	require.NoError(t, store.UpdateConfig(context.Background(), first))

	second := store.GetMaskedConfig()
	require.NoError(t, store.UpdateConfig(context.Background(), second))

	assert.Equal(t, "sk-original", store.GetConfig().Providers.LLM.APIKey)
}

func TestSettingsStoreRejectsRemoteWithoutURL(t *testing.T) {
	store, _ := newStoreForTest(t)

	update := store.GetConfig()
	update.Providers.LLM.Mode = "remote"
	update.Providers.LLM.RemoteURL = ""
	err := store.UpdateConfig(context.Background(), update)
	assert.Error(t, err)
}

func TestSettingsStoreLoopTunablesSurviveZeroUpdate(t *testing.T) {
	store, _ := newStoreForTest(t)

	update := store.GetConfig()
	update.Loop = domain.LoopConfig{} // a client that omits the loop section
	require.NoError(t, store.UpdateConfig(context.Background(), update))

	cfg := store.GetConfig()
	assert.Equal(t, 20, cfg.Loop.MaxToolIterations)
	assert.Equal(t, 8000, cfg.Loop.MaxContextTokens)
	assert.Equal(t, 4, cfg.Loop.MaxConcurrentSteps)
}

func TestSettingsStorePersistsAcrossInstances(t *testing.T) {
	store, repo := newStoreForTest(t)

	update := store.GetConfig()
	update.Loop.MaxToolIterations = 7
	require.NoError(t, store.UpdateConfig(context.Background(), update))

	secret, err := NewSecretKey()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reloaded, err := NewSettingsStore(logger, repo, secret)
	require.NoError(t, err)

	assert.Equal(t, 7, reloaded.GetConfig().Loop.MaxToolIterations)
}

func TestSettingsStoreOnChangeCallback(t *testing.T) {
	store, _ := newStoreForTest(t)

	var got *domain.AppConfig
	store.OnChange(func(cfg *domain.AppConfig) { got = cfg })

	update := store.GetConfig()
	update.Loop.Debug = true
	require.NoError(t, store.UpdateConfig(context.Background(), update))

	require.NotNil(t, got)
	assert.True(t, got.Loop.Debug)
}
