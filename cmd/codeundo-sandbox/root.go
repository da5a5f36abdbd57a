package main

import (
	"github.com/spf13/cobra"

	"github.com/sandboxfs/codeundo/internal/cfg"
)

var bindErr error

var rootCmd = &cobra.Command{
	Use:   "codeundo-sandbox",
	Short: "Mount a reversible, crash-safe undo filesystem over a working directory.",
	Long: `codeundo-sandbox is a FUSE filesystem adapter that tracks every
mutation under a working directory as a reversible step, so a controlling
agent can roll back a command's filesystem side effects without re-running
it, even after a crash mid-operation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return bindErr
	},
}

func init() {
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(serveCmd)
}

func resolvedConfig() (cfg.Config, error) {
	c := cfg.FromViper()
	if err := c.Validate(); err != nil {
		return cfg.Config{}, err
	}
	return c, nil
}
