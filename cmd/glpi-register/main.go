package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/breeze-rmm/glpi-register/internal/config"
	"github.com/breeze-rmm/glpi-register/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var (
	cfgFile   string
	outputFmt string

	cfg     *config.Config
	logFile *logging.FileSink
)

var log = logging.L("cli")

const (
	exitError         = 1
	exitAlreadyExists = 3
)

var rootCmd = &cobra.Command{
	Use:   "glpi-register",
	Short: "Register this computer in GLPI",
	Long: `glpi-register gathers this machine's hardware inventory and registers it as
a Computer asset in a GLPI server, or looks up existing assets by serial number.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "glpi-register %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "Built: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(gatherCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(submitCmd)
}

// setup loads and validates the config and points logging at its sink.
func setup(cmd *cobra.Command, args []string) error {
	switch outputFmt {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q (use text, json or yaml)", outputFmt)
	}
	if cmd == versionCmd {
		return nil
	}

	c, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var sink io.Writer
	if c.LogFile != "" {
		logFile, err = logging.OpenFile(c.LogFile, 0, 0)
		if err != nil {
			return err
		}
		sink = logFile
	}
	logging.Init(c.LogFormat, c.LogLevel, sink)

	if res := c.ValidateTiered(); res.HasFatals() {
		return fmt.Errorf("invalid config %s: %w", c.Path(), errors.Join(res.Fatals...))
	}
	cfg = c
	log.Debug("config loaded", zap.String("path", c.Path()))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()
	if logFile != nil {
		logFile.Close()
	}
	if err != nil {
		os.Exit(report(os.Stderr, err))
	}
}

// report prints err with its remediation hint and returns the exit code.
func report(w io.Writer, err error) int {
	if errors.Is(err, errAlreadyRegistered) {
		return exitAlreadyExists
	}
	fmt.Fprintln(w, "Error:", err)

	var hinted interface{ Hint() string }
	if errors.As(err, &hinted) {
		if h := hinted.Hint(); h != "" {
			fmt.Fprintln(w, "Hint:", h)
		}
	}
	return exitError
}
