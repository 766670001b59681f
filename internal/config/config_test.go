package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/livechat/internal/availability"
	"github.com/real-rm/livechat/internal/constants"
)

func validConfig() *Config {
	cfg, _ := Load()
	cfg.Backend.Token = "some-token"
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, constants.DefaultBackendURL, cfg.Backend.BaseURL)
	assert.Equal(t, constants.DefaultAPIPrefix, cfg.Backend.APIPrefix)
	assert.Equal(t, constants.DefaultSocketPath, cfg.Backend.SocketPath)
	assert.Equal(t, constants.InitialRetryDelay, cfg.Reconnect.InitialDelay)
	assert.Equal(t, constants.MaxRetryDelay, cfg.Reconnect.MaxDelay)
	assert.Equal(t, constants.DefaultTimezone, cfg.Availability.Timezone)
	assert.False(t, cfg.Availability.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LIVECHAT_BACKEND_URL", "https://chat.example.com")
	t.Setenv("LIVECHAT_TOKEN", "env-token")
	t.Setenv("LIVECHAT_RETRY_INITIAL", "250ms")
	t.Setenv("LIVECHAT_HOURS_ENABLED", "true")
	t.Setenv("LIVECHAT_HOURS_HOLIDAYS", "2026-12-25, 2026-01-01")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "env-token", cfg.Backend.Token)
	assert.Equal(t, 250*time.Millisecond, cfg.Reconnect.InitialDelay)
	assert.True(t, cfg.Availability.Enabled)
	assert.Equal(t, []string{"2026-12-25", "2026-01-01"}, cfg.Availability.Holidays)
}

func TestLoad_MalformedEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("LIVECHAT_RETRY_INITIAL", "not-a-duration")
	t.Setenv("LIVECHAT_RETRY_MULTIPLIER", "NaNish")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, constants.InitialRetryDelay, cfg.Reconnect.InitialDelay)
	assert.Equal(t, constants.RetryMultiplier, cfg.Reconnect.Multiplier)
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Failures(t *testing.T) {
	cases := map[string]func(*Config){
		"missing token":      func(c *Config) { c.Backend.Token = "" },
		"bad URL":            func(c *Config) { c.Backend.BaseURL = "not a url" },
		"bad prefix":         func(c *Config) { c.Backend.APIPrefix = "no-slash" },
		"bad socket path":    func(c *Config) { c.Backend.SocketPath = "" },
		"zero initial delay": func(c *Config) { c.Reconnect.InitialDelay = 0 },
		"max below initial":  func(c *Config) { c.Reconnect.MaxDelay = time.Millisecond },
		"multiplier too low": func(c *Config) { c.Reconnect.Multiplier = 1 },
		"bad timezone": func(c *Config) {
			c.Availability.Enabled = true
			c.Availability.Timezone = "Not/AZone"
		},
		"bad holiday": func(c *Config) {
			c.Availability.Enabled = true
			c.Availability.Holidays = []string{"25-12-2026"}
		},
	}

	for name, mutate := range cases {
		cfg := validConfig()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestLoad_HoursWindows(t *testing.T) {
	t.Setenv("LIVECHAT_HOURS_WINDOWS", "Mon-Fri 09:00-17:00, Sat 10:00-14:00")

	cfg, err := Load()

	require.NoError(t, err)
	require.Equal(t, []string{"Mon-Fri 09:00-17:00", "Sat 10:00-14:00"}, cfg.Availability.Windows)

	weekly, err := cfg.Availability.WeeklyWindows()
	require.NoError(t, err)
	assert.Len(t, weekly, 6)
	assert.Equal(t, []availability.Window{{StartMinute: 9 * 60, EndMinute: 17 * 60}}, weekly[time.Monday])
	assert.Equal(t, []availability.Window{{StartMinute: 9 * 60, EndMinute: 17 * 60}}, weekly[time.Friday])
	assert.Equal(t, []availability.Window{{StartMinute: 10 * 60, EndMinute: 14 * 60}}, weekly[time.Saturday])
	assert.Empty(t, weekly[time.Sunday])
}

func TestWeeklyWindows_EmptyIsNil(t *testing.T) {
	weekly, err := validConfig().Availability.WeeklyWindows()

	require.NoError(t, err)
	assert.Nil(t, weekly)
}

func TestWeeklyWindows_DayRangeStepsForward(t *testing.T) {
	cfg := validConfig()
	cfg.Availability.Windows = []string{"Sat-Sun 10:00-12:00"}

	weekly, err := cfg.Availability.WeeklyWindows()

	require.NoError(t, err)
	assert.Len(t, weekly, 2)
	assert.NotEmpty(t, weekly[time.Saturday])
	assert.NotEmpty(t, weekly[time.Sunday])
}

func TestValidate_WindowFailures(t *testing.T) {
	cases := map[string]string{
		"unknown weekday":   "Funday 09:00-17:00",
		"missing interval":  "Mon",
		"bad time":          "Mon 9am-5pm",
		"inverted interval": "Mon 17:00-09:00",
	}

	for name, entry := range cases {
		cfg := validConfig()
		cfg.Availability.Windows = []string{entry}
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestAPIBase(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.BaseURL = "https://chat.example.com"
	cfg.Backend.APIPrefix = "/livechat/api"

	assert.Equal(t, "https://chat.example.com/livechat/api", cfg.APIBase())
}

func TestSocketURL_SchemeMapping(t *testing.T) {
	cfg := validConfig()

	cfg.Backend.BaseURL = "https://chat.example.com"
	assert.Equal(t, "wss://chat.example.com"+constants.DefaultSocketPath, cfg.SocketURL())

	cfg.Backend.BaseURL = "http://localhost:8080"
	assert.Equal(t, "ws://localhost:8080"+constants.DefaultSocketPath, cfg.SocketURL())
}
