/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Shared utilities for the probe commands. Provides configuration
loading, logging setup, client construction and signal handling used across
all command implementations.
*/

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kleascm/akaylee-probe/pkg/client"
	"github.com/kleascm/akaylee-probe/pkg/config"
	"github.com/kleascm/akaylee-probe/pkg/logging"
	"github.com/spf13/viper"
)

// LoadConfig merges defaults, the config file, environment and bound flags.
func LoadConfig() (*config.Config, error) {
	v := viper.GetViper()
	cfg, err := config.Load(v, v.GetString("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SetupLogging builds the probe logger from the logging section.
func SetupLogging(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	return logger, nil
}

// setup loads the configuration and the logger in one go.
func setup() (*config.Config, *logging.Logger, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := SetupLogging(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newMonitorClient(cfg *config.Config, logger *logging.Logger) *client.MonitorClient {
	return client.NewMonitorClient(cfg.Client.Host, cfg.Client.MonitorPorts, cfg.Client.Timeout, logger.GetLogger())
}

func newDaemonClient(cfg *config.Config, logger *logging.Logger) *client.DaemonClient {
	return client.NewDaemonClient(cfg.DaemonAddr(), client.DaemonOptions{
		Timeout:    cfg.Client.Timeout,
		Retries:    cfg.Client.Retries,
		RetryDelay: cfg.Client.RetryDelay,
		Logger:     logger.GetLogger(),
	})
}
