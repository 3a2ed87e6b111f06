package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/colloquyhq/colloquy"
	"github.com/colloquyhq/colloquy/internal/logging"
	mcpAdapter "github.com/colloquyhq/colloquy/pkg/adapters/mcp"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts the engine as an MCP server over stdio, so AI agent hosts
can drive conversations through tool calls.`,
	Run: func(cmd *cobra.Command, args []string) {
		catalog, _ := cmd.Flags().GetString("catalog")

		logger := logging.New(slog.LevelInfo)

		engine, err := colloquy.New(catalog, colloquy.WithLogger(logger))
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		// Ensure logs don't corrupt JSON-RPC on Stdout.
		log.SetOutput(os.Stderr)
		logger.Info("starting MCP server (stdio)", "catalog", catalog)

		srv := mcpAdapter.NewServer(engine.Sessions(), colloquy.Version)
		if err := srv.ServeStdio(); err != nil {
			logger.Error("MCP server execution failed", "err", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
