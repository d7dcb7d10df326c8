package authkit_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianabroad/portal/pkg/authkit"
	"github.com/meridianabroad/portal/pkg/authkit/credstore"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PORTAL_BASE_URL", "https://portal.test.example/api")
	t.Setenv("PORTAL_HTTP_TIMEOUT", "3s")
	t.Setenv("PORTAL_LOG_LEVEL", "debug")

	cfg, err := authkit.ConfigFromEnv()
	require.NoError(t, err)

	require.Equal(t, "https://portal.test.example/api", cfg.BaseURL)
	require.Equal(t, 3*time.Second, cfg.Timeout)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat, "defaults apply for unset vars")
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := authkit.ConfigFromEnv()
	require.NoError(t, err)

	require.NotEmpty(t, cfg.BaseURL)
	require.Equal(t, 10*time.Second, cfg.Timeout)
}

func TestConfigOpenCache(t *testing.T) {
	t.Parallel()

	t.Run("empty path is in-memory", func(t *testing.T) {
		t.Parallel()

		cache, err := authkit.Config{}.OpenCache()
		require.NoError(t, err)
		require.IsType(t, &credstore.MemStore{}, cache)
	})

	t.Run("path selects the file store", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "session.json")
		cache, err := authkit.Config{CachePath: path}.OpenCache()
		require.NoError(t, err)

		require.NoError(t, cache.Save(credstore.Credentials{
			User:  []byte(`{"id":"u-1","username":"alice"}`),
			Token: "tok-1",
		}))

		// A second open over the same path sees the record, as after a
		// process restart.
		again, err := authkit.Config{CachePath: path}.OpenCache()
		require.NoError(t, err)
		loaded, err := again.Load()
		require.NoError(t, err)
		require.Equal(t, "tok-1", loaded.Token)
	})

	t.Run("secret seals the file at rest", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "session.bin")
		cfg := authkit.Config{CachePath: path, CacheSecret: "machine-local-secret"}

		cache, err := cfg.OpenCache()
		require.NoError(t, err)
		require.NoError(t, cache.Save(credstore.Credentials{
			User:  []byte(`{"id":"u-1"}`),
			Token: "tok-secret",
		}))

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NotContains(t, string(raw), "tok-secret")

		again, err := cfg.OpenCache()
		require.NoError(t, err)
		loaded, err := again.Load()
		require.NoError(t, err)
		require.Equal(t, "tok-secret", loaded.Token)
	})
}

func TestNewClientStripsTrailingSlash(t *testing.T) {
	t.Parallel()

	c := authkit.New(authkit.Config{
		BaseURL: "https://portal.example.edu/api///",
		Timeout: time.Second,
	}, credstore.NewMemStore())
	require.Equal(t, "https://portal.example.edu/api", c.BaseURL)
}
