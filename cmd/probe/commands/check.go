/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: check.go
Description: Self-check and log inspection commands. The self-check validates
the configuration, the policy file, the port file and an optional API table,
and probes the device, the daemon and the monitors.
*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/client"
	"github.com/kleascm/akaylee-probe/pkg/config"
	"github.com/kleascm/akaylee-probe/pkg/logging"
	"github.com/kleascm/akaylee-probe/pkg/mobile"
	"github.com/kleascm/akaylee-probe/pkg/monitor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// checkTimeout bounds every network probe of the self-check.
const checkTimeout = 5 * time.Second

type check struct {
	name     string
	function func(ctx context.Context) (string, error)
}

// PerformSelfCheck runs every check and fails if any of them does.
func PerformSelfCheck(cmd *cobra.Command, args []string) error {
	fmt.Println("🔍 Akaylee Probe - System Self-Check")
	fmt.Println("===================================")
	fmt.Println()

	cfg, logger, err := setup()
	if err != nil {
		fmt.Printf("🔍 Configuration Validation... ❌ FAILED: %v\n", err)
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	checks := []check{
		{"Policy File", func(context.Context) (string, error) { return checkPolicyFile(cfg) }},
		{"Port File", func(context.Context) (string, error) { return checkPortFile(cfg) }},
		{"API Table", func(context.Context) (string, error) { return checkAPITable() }},
	}
	if viper.GetBool("check.device") {
		checks = append(checks, check{"Device", func(ctx context.Context) (string, error) { return checkDevice(ctx, cfg) }})
	}
	if viper.GetBool("check.online") {
		checks = append(checks,
			check{"Daemon", func(ctx context.Context) (string, error) { return checkDaemon(ctx, cfg, logger) }},
			check{"Monitors", func(ctx context.Context) (string, error) { return checkMonitors(ctx, cfg, logger) }},
		)
	}

	fmt.Println("🔍 Configuration Validation... ✅ PASSED")
	passed := 1
	total := len(checks) + 1
	for _, c := range checks {
		fmt.Printf("🔍 %s... ", c.name)
		cctx, ccancel := context.WithTimeout(ctx, checkTimeout)
		note, err := c.function(cctx)
		ccancel()
		if err != nil {
			fmt.Printf("❌ FAILED: %v\n", err)
			continue
		}
		passed++
		if note != "" {
			fmt.Printf("✅ PASSED (%s)\n", note)
		} else {
			fmt.Println("✅ PASSED")
		}
	}

	fmt.Println()
	fmt.Printf("📊 Results: %d/%d checks passed\n", passed, total)
	if passed == total {
		fmt.Println("✨ All checks passed!")
		return nil
	}
	return fmt.Errorf("%d/%d checks failed", total-passed, total)
}

func checkPolicyFile(cfg *config.Config) (string, error) {
	set, err := monitor.LoadPolicies(cfg.Monitor.PolicyFile)
	if errors.Is(err, fs.ErrNotExist) {
		return "absent, every call is allowed", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d rules", len(set.Rules())), nil
}

func checkPortFile(cfg *config.Config) (string, error) {
	port, err := monitor.ReadPortFile(cfg.Monitor.PortFile)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("port %d", port), nil
}

func checkAPITable() (string, error) {
	path := viper.GetString("check.api_table")
	if path == "" {
		return "not configured", nil
	}
	table, err := monitor.LoadAPITable(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d apis", table.Len()), nil
}

func checkDevice(ctx context.Context, cfg *config.Config) (string, error) {
	dev := mobile.NewADBDevice(cfg.Device)
	info, err := dev.GetDeviceInfo(ctx)
	if err != nil {
		return "", err
	}
	model := info["ro.product.model"]
	if model == "" {
		return "", fmt.Errorf("device reports no model")
	}
	return fmt.Sprintf("%s, Android %s", model, info["ro.build.version.release"]), nil
}

func checkDaemon(ctx context.Context, cfg *config.Config, logger *logging.Logger) (string, error) {
	dc := client.NewDaemonClient(cfg.DaemonAddr(), client.DaemonOptions{
		Timeout: cfg.Client.Timeout,
		Logger:  logger.GetLogger(),
	})
	natural, err := dc.IsNaturalOrientation(ctx)
	if err != nil {
		return "", err
	}
	if natural {
		return "natural orientation", nil
	}
	return "rotated", nil
}

func checkMonitors(ctx context.Context, cfg *config.Config, logger *logging.Logger) (string, error) {
	infos, err := newMonitorClient(cfg, logger).Reachable(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", fmt.Errorf("none reachable on ports %v", cfg.Client.MonitorPorts)
	}
	return fmt.Sprintf("%d of %d reachable", len(infos), len(cfg.Client.MonitorPorts)), nil
}

// RunLogSummary analyzes the probe's own log files.
func RunLogSummary(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Logging.OutputDir == "" {
		return fmt.Errorf("no log directory configured, use --log-dir or logging.output_dir")
	}

	manager := logging.NewLogManager(cfg.Logging.OutputDir, cfg.Logging.MaxFiles, cfg.Logging.MaxSize, cfg.Logging.Compress)
	stats, err := manager.GetLogStats()
	if err != nil {
		return err
	}
	fmt.Printf("📁 %s: %d files (%d compressed), %d bytes\n",
		cfg.Logging.OutputDir, stats.TotalFiles, stats.CompressedFiles, stats.TotalSize)

	analysis, err := logging.NewLogAnalyzer(cfg.Logging.OutputDir).AnalyzeLogs()
	if err != nil {
		return err
	}
	fmt.Println(analysis.GetLogSummary())
	return nil
}
