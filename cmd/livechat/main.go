// Command livechat runs the synchronization engine headless against a chat
// backend: it connects, keeps the local session view converged, and logs
// message, presence, and lifecycle activity. Useful as a smoke client against
// a deployed backend and as the wiring reference for embedding applications.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/real-rm/goconfig"
	"github.com/real-rm/golog"

	"github.com/real-rm/livechat"
	"github.com/real-rm/livechat/internal/config"
	"github.com/real-rm/livechat/internal/constants"
)

// loadConfiguration loads the configuration and returns the config accessor
func loadConfiguration() (*goconfig.ConfigAccessor, error) {
	if err := goconfig.LoadConfig(); err != nil {
		return nil, err
	}

	cfg, err := goconfig.Default()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// initializeLogger initializes the logger with the given configuration
func initializeLogger(cfg *goconfig.ConfigAccessor) (*golog.Logger, error) {
	logDir, _ := cfg.ConfigStringWithDefault("log.dir", constants.DefaultLogDir)
	logLevel, _ := cfg.ConfigStringWithDefault("log.level", constants.DefaultLogLevel)
	standardOutput, _ := cfg.ConfigBoolWithDefault("log.standardOutput", true)

	logger, err := golog.InitLog(golog.LogConfig{
		Dir:            logDir,
		Level:          logLevel,
		StandardOutput: standardOutput,
		InfoFile:       "info.log",
		WarnFile:       "warn.log",
		ErrorFile:      "error.log",
	})
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// engineConfig builds the engine configuration, letting goconfig keys override
// the environment-derived defaults.
func engineConfig(cfg *goconfig.ConfigAccessor) (*config.Config, error) {
	engineCfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if v, err := cfg.ConfigString("backend.url"); err == nil && v != "" {
		engineCfg.Backend.BaseURL = v
	}
	if v, err := cfg.ConfigString("backend.token"); err == nil && v != "" {
		engineCfg.Backend.Token = v
	}
	if v, err := cfg.ConfigString("backend.apiPrefix"); err == nil && v != "" {
		engineCfg.Backend.APIPrefix = v
	}
	if v, err := cfg.ConfigString("backend.socketPath"); err == nil && v != "" {
		engineCfg.Backend.SocketPath = v
	}

	if err := engineCfg.Validate(); err != nil {
		return nil, err
	}
	return engineCfg, nil
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// runWithSignalChannel is a testable version of run that accepts a signal channel
func runWithSignalChannel(sigChan chan os.Signal) error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	logger, err := initializeLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	engineCfg, err := engineConfig(cfg)
	if err != nil {
		return err
	}

	engine, err := livechat.New(engineCfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	engine.OnMessagesChanged(func(sessionID string) {
		msgs := engine.Messages(sessionID)
		if len(msgs) == 0 {
			return
		}
		last := msgs[len(msgs)-1]
		logger.Info("Timeline updated",
			"session_id", sessionID,
			"messages", len(msgs),
			"last_sender", last.Sender,
			"last_status", last.Status)
	})
	engine.OnSessionsChanged(func(sess *livechat.ChatSession, removed bool) {
		logger.Info("Session changed",
			"session_id", sess.ID,
			"status", sess.Status,
			"removed", removed)
	})
	engine.OnTypingChanged(func(sessionID string, typing []livechat.TypingSignal) {
		logger.Info("Typing changed", "session_id", sessionID, "typing", len(typing))
	})
	engine.OnConnectionChange(func(connected bool) {
		logger.Info("Connection state changed", "connected", connected)
	})

	if err := engine.Start(context.Background()); err != nil {
		return err
	}
	logger.Info("Engine started",
		"backend", engineCfg.Backend.BaseURL,
		"admin", engine.IsAdmin())

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Shutting down gracefully")

	return nil
}

func main() {
	if err := runMain(); err != nil {
		log.Fatalf("Failed to run livechat engine: %v", err)
	}
}

// runMain is the testable main function
func runMain() error {
	sigChan := setupSignalHandler()
	return runWithSignalChannel(sigChan)
}
