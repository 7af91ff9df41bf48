/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: device.go
Description: One-shot daemon commands for interactive use: capture the GUI and
query the display orientation.
*/

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunDump captures the window hierarchy through the daemon.
func RunDump(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	status, err := newDaemonClient(cfg, logger).DumpUI(ctx)
	if err != nil {
		return err
	}

	if out := viper.GetString("dump.output"); out != "" {
		if err := os.WriteFile(out, []byte(status.WindowHierarchyDump), 0644); err != nil {
			return fmt.Errorf("failed to write dump: %w", err)
		}
		fmt.Printf("📄 %s %dx%d, %d chars written to %s\n",
			status.DeviceModel, status.DisplayWidth, status.DisplayHeight, len(status.WindowHierarchyDump), out)
		return nil
	}
	fmt.Println(status.WindowHierarchyDump)
	return nil
}

// RunOrientation prints whether the device is in its natural orientation.
func RunOrientation(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	natural, err := newDaemonClient(cfg, logger).IsNaturalOrientation(ctx)
	if err != nil {
		return err
	}
	if natural {
		fmt.Println("natural")
	} else {
		fmt.Println("rotated")
	}
	return nil
}
