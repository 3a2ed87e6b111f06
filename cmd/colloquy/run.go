package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/colloquyhq/colloquy"
	"github.com/colloquyhq/colloquy/internal/logging"
	"github.com/colloquyhq/colloquy/pkg/domain"
	"github.com/colloquyhq/colloquy/pkg/events"
	"github.com/colloquyhq/colloquy/pkg/session"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an interactive conversation on the terminal",
	Long:  `Starts a single local conversation over the given catalog. Messages are read line by line from stdin; card requests are printed as JSON and answered with a JSON object on one line.`,
	Run: func(cmd *cobra.Command, args []string) {
		catalog, _ := cmd.Flags().GetString("catalog")
		if !cmd.Flags().Changed("catalog") && len(args) > 0 {
			catalog = args[0]
		}
		verbose, _ := cmd.Flags().GetBool("verbose")

		logger := logging.NewNop()
		if verbose {
			logger = logging.New(slog.LevelDebug)
		}

		engine, err := colloquy.New(catalog, colloquy.WithLogger(logger))
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		sessions := engine.Sessions()
		sess, err := sessions.Start(ctx, "local")
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		settle(sess)
		awaitingCard := render(sess.Events.Drain(), verbose)

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/quit":
				return
			case line == "/reset":
				err = sessions.Reset(ctx, "local")
			case awaitingCard:
				var data map[string]any
				if jsonErr := json.Unmarshal([]byte(line), &data); jsonErr != nil {
					fmt.Println("Expected a JSON object for the pending card.")
					continue
				}
				err = sessions.SubmitInput(ctx, "local", data)
			default:
				err = sessions.ProcessMessage(ctx, "local", line)
			}
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			settle(sess)
			awaitingCard = render(sess.Events.Drain(), verbose)
		}
	},
}

// settle waits for the conversation pump to finish or park before the
// buffered events are drained for display.
func settle(sess *session.Session) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		active := sess.Orchestrator.ActiveTopic()
		if active == nil || active.State() == domain.TopicWaiting {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// render prints the user-facing envelopes and reports whether a card is
// pending input.
func render(batch []events.Envelope, verbose bool) bool {
	awaitingCard := false
	for _, ev := range batch {
		switch ev.Type {
		case events.MessageReady:
			fmt.Println(ev.GetString(events.KeyText))
		case events.CardReady:
			out, _ := json.Marshal(ev.Payload[events.KeyCard])
			fmt.Printf("[card] %s\n", out)
			awaitingCard = true
		case events.RoutingNoMatch:
			fmt.Println("Sorry, I don't have a topic for that.")
		default:
			if verbose {
				fmt.Printf(".. %s (%s)\n", ev.Type, ev.Topic)
			}
		}
	}
	return awaitingCard
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Print lifecycle events alongside messages")
}
