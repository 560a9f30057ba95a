package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/legamerdc/cosched/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "cosched",
	Short: "Cooperative single-threaded scheduler with an echo server",
	Long: `cosched runs many logical tasks on one thread, resuming each until it
suspends on socket readiness. The serve command exposes a raw TCP echo
server built on it; probe checks a running server with concurrent clients.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		mode, err := cmd.Root().PersistentFlags().GetString("color")
		if err != nil {
			return err
		}
		return applyColorMode(mode)
	},
}

func init() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(versionCmd)

	// 全局参数
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().String("trace", "", "trace output file (- for stderr, *.zst for zstd)")
	rootCmd.PersistentFlags().String("trace-level", "off", "trace level (off|error|loop|task|io)")
	rootCmd.PersistentFlags().String("trace-mode", "stream", "trace storage mode (stream|ring|both)")
	rootCmd.PersistentFlags().Int("trace-ring-size", 4096, "ring buffer capacity for ring mode")
	rootCmd.PersistentFlags().String("trace-format", "auto", "trace format (auto|text|ndjson|msgpack)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func applyColorMode(mode string) error {
	switch strings.ToLower(mode) {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
		color.NoColor = !isTerminal(os.Stdout)
	default:
		return fmt.Errorf("invalid color mode %q (expected: auto|on|off)", mode)
	}
	return nil
}

// isTerminal 判断文件是否为终端
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
