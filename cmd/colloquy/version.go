package main

import (
	"fmt"

	"github.com/colloquyhq/colloquy"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of colloquy",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("colloquy version %s\n", colloquy.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
