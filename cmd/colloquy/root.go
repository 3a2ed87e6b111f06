package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "colloquy",
	Short: "Colloquy is an event-driven conversation orchestration engine",
	Long:  `Colloquy runs dialog flows defined in YAML topic catalogs: topics route on keyword confidence, activities execute in order, and sub-topics hand control down and back up a call stack.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("catalog", "c", "catalog.yaml", "Path to the topic catalog")
}
