package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/real-rm/livechat/internal/availability"
	"github.com/real-rm/livechat/internal/constants"
)

// Config holds all engine configuration
type Config struct {
	Backend      BackendConfig
	Reconnect    ReconnectConfig
	Availability AvailabilityConfig
	Log          LogConfig
}

// BackendConfig holds the chat backend endpoints and credential
type BackendConfig struct {
	BaseURL    string // scheme://host:port, no trailing slash
	APIPrefix  string // request/response route prefix
	SocketPath string // persistent connection route
	Token      string // bearer credential issued at login
}

// ReconnectConfig holds the reconnect backoff tuning
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// AvailabilityConfig holds the local business-hours schedule used when the
// backend's availability endpoint is unreachable
type AvailabilityConfig struct {
	Enabled        bool
	OverrideOnline bool
	Timezone       string
	OfflineMessage string
	Windows        []string // weekly working-hours entries, e.g. "Mon-Fri 09:00-17:00"
	Holidays       []string // date-only entries, local to Timezone
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
	Dir   string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Backend: BackendConfig{
			BaseURL:    getEnv("LIVECHAT_BACKEND_URL", constants.DefaultBackendURL),
			APIPrefix:  getEnv("LIVECHAT_API_PREFIX", constants.DefaultAPIPrefix),
			SocketPath: getEnv("LIVECHAT_SOCKET_PATH", constants.DefaultSocketPath),
			Token:      getEnv("LIVECHAT_TOKEN", ""),
		},
		Reconnect: ReconnectConfig{
			InitialDelay: getEnvAsDuration("LIVECHAT_RETRY_INITIAL", constants.InitialRetryDelay),
			MaxDelay:     getEnvAsDuration("LIVECHAT_RETRY_MAX", constants.MaxRetryDelay),
			Multiplier:   getEnvAsFloat("LIVECHAT_RETRY_MULTIPLIER", constants.RetryMultiplier),
		},
		Availability: AvailabilityConfig{
			Enabled:        getEnvAsBool("LIVECHAT_HOURS_ENABLED", false),
			OverrideOnline: getEnvAsBool("LIVECHAT_HOURS_OVERRIDE_ONLINE", false),
			Timezone:       getEnv("LIVECHAT_HOURS_TIMEZONE", constants.DefaultTimezone),
			OfflineMessage: getEnv("LIVECHAT_HOURS_OFFLINE_MESSAGE", ""),
			Windows:        getEnvAsSlice("LIVECHAT_HOURS_WINDOWS", []string{}),
			Holidays:       getEnvAsSlice("LIVECHAT_HOURS_HOLIDAYS", []string{}),
		},
		Log: LogConfig{
			Level: getEnv("LIVECHAT_LOG_LEVEL", constants.DefaultLogLevel),
			Dir:   getEnv("LIVECHAT_LOG_DIR", constants.DefaultLogDir),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend URL is required"))
	} else if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend URL is not a valid absolute URL: %s", c.Backend.BaseURL))
	}
	if c.Backend.APIPrefix == "" {
		errs = append(errs, errors.New("API prefix cannot be empty"))
	} else if !strings.HasPrefix(c.Backend.APIPrefix, "/") {
		errs = append(errs, errors.New("API prefix must start with '/'"))
	}
	if c.Backend.SocketPath == "" {
		errs = append(errs, errors.New("socket path cannot be empty"))
	} else if !strings.HasPrefix(c.Backend.SocketPath, "/") {
		errs = append(errs, errors.New("socket path must start with '/'"))
	}
	if c.Backend.Token == "" {
		errs = append(errs, errors.New("bearer token is required"))
	}

	if c.Reconnect.InitialDelay <= 0 {
		errs = append(errs, errors.New("reconnect initial delay must be positive"))
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		errs = append(errs, errors.New("reconnect max delay must be at least the initial delay"))
	}
	if c.Reconnect.Multiplier <= 1 {
		errs = append(errs, errors.New("reconnect multiplier must be greater than 1"))
	}

	if c.Availability.Enabled {
		if _, err := time.LoadLocation(c.Availability.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("invalid schedule timezone %q: %w", c.Availability.Timezone, err))
		}
		for _, day := range c.Availability.Holidays {
			if _, err := time.Parse(constants.HolidayDateLayout, day); err != nil {
				errs = append(errs, fmt.Errorf("invalid holiday date %q, want %s", day, constants.HolidayDateLayout))
			}
		}
	}
	if _, err := c.Availability.WeeklyWindows(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// weekdayNames maps the three-letter abbreviations accepted in window entries.
var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// WeeklyWindows parses the configured window entries into the schedule shape.
// Each entry is "<Day> <HH:MM>-<HH:MM>" or "<Day>-<Day> <HH:MM>-<HH:MM>",
// e.g. "Mon-Fri 09:00-17:00". Day ranges step forward, so "Sat-Sun" covers
// just the weekend. Returns nil when no windows are configured.
func (a *AvailabilityConfig) WeeklyWindows() (map[time.Weekday][]availability.Window, error) {
	if len(a.Windows) == 0 {
		return nil, nil
	}

	weekly := make(map[time.Weekday][]availability.Window)
	for _, entry := range a.Windows {
		days, window, err := parseWindowEntry(entry)
		if err != nil {
			return nil, err
		}
		for _, day := range days {
			weekly[day] = append(weekly[day], window)
		}
	}
	return weekly, nil
}

func parseWindowEntry(entry string) ([]time.Weekday, availability.Window, error) {
	fields := strings.Fields(entry)
	if len(fields) != 2 {
		return nil, availability.Window{}, fmt.Errorf("invalid hours window %q, want e.g. \"Mon-Fri 09:00-17:00\"", entry)
	}

	days, err := parseDayRange(fields[0])
	if err != nil {
		return nil, availability.Window{}, fmt.Errorf("invalid hours window %q: %w", entry, err)
	}

	bounds := strings.SplitN(fields[1], "-", 2)
	if len(bounds) != 2 {
		return nil, availability.Window{}, fmt.Errorf("invalid hours window %q: want a HH:MM-HH:MM interval", entry)
	}
	start, err := parseMinuteOfDay(bounds[0])
	if err != nil {
		return nil, availability.Window{}, fmt.Errorf("invalid hours window %q: %w", entry, err)
	}
	end, err := parseMinuteOfDay(bounds[1])
	if err != nil {
		return nil, availability.Window{}, fmt.Errorf("invalid hours window %q: %w", entry, err)
	}
	if start >= end {
		return nil, availability.Window{}, fmt.Errorf("invalid hours window %q: start is not before end", entry)
	}

	return days, availability.Window{StartMinute: start, EndMinute: end}, nil
}

func parseDayRange(raw string) ([]time.Weekday, error) {
	parts := strings.SplitN(raw, "-", 2)
	first, ok := weekdayNames[strings.ToLower(parts[0])]
	if !ok {
		return nil, fmt.Errorf("unknown weekday %q", parts[0])
	}
	if len(parts) == 1 {
		return []time.Weekday{first}, nil
	}

	last, ok := weekdayNames[strings.ToLower(parts[1])]
	if !ok {
		return nil, fmt.Errorf("unknown weekday %q", parts[1])
	}
	days := []time.Weekday{first}
	for day := first; day != last; {
		day = (day + 1) % 7
		days = append(days, day)
	}
	return days, nil
}

func parseMinuteOfDay(raw string) (int, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("bad time %q, want HH:MM", raw)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// APIBase returns the full request/response base URL.
func (c *Config) APIBase() string {
	return c.Backend.BaseURL + c.Backend.APIPrefix
}

// SocketURL returns the persistent connection URL with the ws scheme.
func (c *Config) SocketURL() string {
	base := c.Backend.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.Backend.SocketPath
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	result := []string{}
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
