// Command sheetd runs the collaborative spreadsheet hub and a terminal
// client for it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.alis.build/alog"

	"github.com/lijuchacko/sheetsync/internal/config"
)

var (
	configPath string
	logLevel   string

	cfg config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to an .hcl or .json config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

var rootCmd = &cobra.Command{
	Use:           "sheetd",
	Short:         "Collaborative spreadsheet hub and client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		lvl, err := c.Level()
		if err != nil {
			return err
		}
		alog.SetLevel(lvl)
		cfg = c
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sheetd:", err)
		os.Exit(1)
	}
}
