package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudsync-oss/cloudsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(cc.Cfg)
	}

	printResolvedDrive(cc.Cfg)

	return nil
}

// printResolvedDrive writes a human-readable summary of the effective
// per-drive configuration to stdout.
func printResolvedDrive(rd *config.ResolvedDrive) {
	fmt.Printf("Drive:              %s\n", rd.CanonicalID)
	fmt.Printf("Provider:           %s\n", orDash(rd.Provider))
	fmt.Printf("Sync directory:     %s\n", orDash(rd.SyncDir))
	fmt.Printf("State directory:    %s\n", orDash(rd.StateDir))
	fmt.Printf("Remote path:        %s\n", orDash(rd.RemotePath))
	fmt.Printf("Paused:             %t\n", rd.Paused)
	fmt.Println()
	fmt.Printf("Skip dotfiles:      %t\n", rd.SkipDotfiles)
	fmt.Printf("Skip symlinks:      %t\n", rd.SkipSymlinks)
	fmt.Printf("Skip dirs:          %v\n", rd.SkipDirs)
	fmt.Printf("Skip files:         %v\n", rd.SkipFiles)
	fmt.Println()
	fmt.Printf("Parallel downloads: %d\n", rd.ParallelDownloads)
	fmt.Printf("Parallel uploads:   %d\n", rd.ParallelUploads)
	fmt.Printf("Parallel checkers:  %d\n", rd.ParallelCheckers)
	fmt.Println()
	fmt.Printf("Poll interval:      %s\n", orDash(rd.PollInterval))
	fmt.Printf("Conflict strategy:  %s\n", orDash(rd.ConflictStrategy))
	fmt.Println()
	fmt.Printf("Big-delete min:     %d items\n", rd.BigDeleteMinItems)
	fmt.Printf("Big-delete max:     %d items / %d%%\n", rd.BigDeleteThreshold, rd.BigDeletePercentage)
	fmt.Printf("Use local trash:    %t\n", rd.UseLocalTrash)
	fmt.Println()
	fmt.Printf("Log level:          %s\n", orDash(rd.LogLevel))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
