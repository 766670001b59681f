package main

import (
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/real-rm/goconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/testutil"
)

// main() is not tested directly: it terminates the process on failure. The
// logic lives in runMain/runWithSignalChannel, which return errors and accept
// an injectable signal channel, so the full startup and graceful-shutdown
// sequence is testable in-process.

func clearEnvVars() {
	envVars := []string{
		"LIVECHAT_BACKEND_URL",
		"LIVECHAT_API_PREFIX",
		"LIVECHAT_SOCKET_PATH",
		"LIVECHAT_TOKEN",
		"LIVECHAT_RETRY_INITIAL",
		"LIVECHAT_RETRY_MAX",
		"LIVECHAT_RETRY_MULTIPLIER",
		"LIVECHAT_HOURS_ENABLED",
		"LIVECHAT_HOURS_OVERRIDE_ONLINE",
		"LIVECHAT_HOURS_TIMEZONE",
		"LIVECHAT_HOURS_OFFLINE_MESSAGE",
		"LIVECHAT_HOURS_WINDOWS",
		"LIVECHAT_HOURS_HOLIDAYS",
		"LOG_DIR",
		"LOG_LEVEL",
		"RMBASE_FILE_CFG",
	}
	for _, envVar := range envVars {
		os.Unsetenv(envVar)
	}

	// Reset goconfig state to avoid interference between tests
	goconfig.ResetConfig()
}

func TestLoadConfiguration(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	cfg, err := loadConfiguration()
	// goconfig behavior: may or may not error on a missing config file
	if err != nil {
		t.Logf("Configuration loading failed without config file: %v", err)
		assert.Nil(t, cfg)
		return
	}
	require.NotNil(t, cfg, "Config accessor should not be nil")
}

func TestInitializeLogger(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	os.Setenv("LOG_DIR", t.TempDir())
	defer os.Unsetenv("LOG_DIR")

	cfg, err := loadConfiguration()
	if err != nil {
		t.Skipf("goconfig unavailable without config file: %v", err)
	}

	logger, err := initializeLogger(cfg)
	require.NoError(t, err, "Should initialize logger successfully")
	require.NotNil(t, logger)
	defer logger.Close()
}

func TestEngineConfig(t *testing.T) {
	t.Run("FromEnvironment", func(t *testing.T) {
		clearEnvVars()
		defer clearEnvVars()

		os.Setenv("LIVECHAT_BACKEND_URL", "https://chat.example.com")
		os.Setenv("LIVECHAT_TOKEN", "some-token")

		cfg, err := loadConfiguration()
		if err != nil {
			t.Skipf("goconfig unavailable without config file: %v", err)
		}

		engineCfg, err := engineConfig(cfg)
		require.NoError(t, err)
		assert.Equal(t, "https://chat.example.com", engineCfg.Backend.BaseURL)
		assert.Equal(t, "some-token", engineCfg.Backend.Token)
		assert.Equal(t, constants.DefaultAPIPrefix, engineCfg.Backend.APIPrefix)
	})

	t.Run("MissingTokenFailsValidation", func(t *testing.T) {
		clearEnvVars()
		defer clearEnvVars()

		cfg, err := loadConfiguration()
		if err != nil {
			t.Skipf("goconfig unavailable without config file: %v", err)
		}

		_, err = engineConfig(cfg)
		assert.Error(t, err, "Validation should reject a missing token")
	})
}

func TestSetupSignalHandler(t *testing.T) {
	sigChan := setupSignalHandler()
	require.NotNil(t, sigChan)
	defer signal.Stop(sigChan)

	go func() {
		time.Sleep(50 * time.Millisecond)
		sigChan <- syscall.SIGTERM
	}()

	select {
	case sig := <-sigChan:
		assert.Equal(t, syscall.SIGTERM, sig)
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for signal")
	}
}

func TestRunWithSignalChannel(t *testing.T) {
	t.Run("GracefulShutdownAgainstBackend", func(t *testing.T) {
		clearEnvVars()
		defer clearEnvVars()

		backend := testutil.NewFakeBackend()
		defer backend.Close()

		os.Setenv("LIVECHAT_BACKEND_URL", backend.URL())
		os.Setenv("LIVECHAT_TOKEN", testutil.MintToken(t, "smoke-1", "Smoke", nil))
		os.Setenv("LOG_DIR", t.TempDir())

		sigChan := make(chan os.Signal, 1)
		errChan := make(chan error, 1)
		go func() {
			errChan <- runWithSignalChannel(sigChan)
		}()

		// Give the engine time to start, then shut it down
		time.Sleep(300 * time.Millisecond)
		sigChan <- syscall.SIGTERM

		select {
		case err := <-errChan:
			if err != nil {
				t.Logf("Run failed during startup (goconfig without config file): %v", err)
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not complete within timeout")
		}
	})

	t.Run("InvalidConfigurationFails", func(t *testing.T) {
		clearEnvVars()
		defer clearEnvVars()

		// No token: engine configuration validation must fail before startup
		os.Setenv("LOG_DIR", t.TempDir())

		sigChan := make(chan os.Signal, 1)
		errChan := make(chan error, 1)
		go func() {
			errChan <- runWithSignalChannel(sigChan)
		}()

		select {
		case err := <-errChan:
			assert.Error(t, err, "Startup should fail without a token")
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not fail within timeout")
		}
	})
}
