package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/agent/events"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command: the spec's agent.run(key,
// message) operation, printing each streamed event as it arrives via a
// Subscribe listener held open for the run's duration.
func buildRunCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run one turn against a session and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := newLogger(cfg)
			shutdownTracing := startTracing(cfg)
			defer shutdownTracing(5 * time.Second)

			controller, closeStore, err := buildController(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			out := cmd.OutOrStdout()
			unsubscribe := controller.Subscribe(func(ev events.Event) {
				printEvent(out, ev)
			})
			defer unsubscribe()

			logger.Info(cmd.Context(), "run started", "key", key)
			result, err := controller.Run(cmd.Context(), key, args[0])
			if err != nil {
				logger.Error(cmd.Context(), "run failed", "key", key, "error", err)
				return fmt.Errorf("run failed: %w", err)
			}
			logger.Info(cmd.Context(), "run finished", "key", key, "turns", result.Turns, "tool_calls", result.ToolCalls)
			fmt.Fprintf(out, "\n%s\n", result.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "main", "Session key (or ID) to run against")
	return cmd
}

// printEvent renders one streamed event as a single line, grouped by kind
// (spec §6 subscribe consumer contract: "CLI ... consumes subscribe").
func printEvent(out io.Writer, ev events.Event) {
	switch ev.Kind {
	case events.KindMessageDelta:
		fmt.Fprint(out, ev.Delta)
	case events.KindToolExecutionStart:
		fmt.Fprintf(out, "\n[tool] %s(%s)\n", ev.ToolName, truncate(ev.ToolArgs, 120))
	case events.KindToolExecutionEnd:
		status := "ok"
		if ev.IsError {
			status = "error"
		}
		fmt.Fprintf(out, "[tool] %s -> %s: %s\n", ev.ToolName, status, truncate(ev.ToolOut, 200))
	case events.KindToolSkipped:
		fmt.Fprintf(out, "[tool] %s skipped\n", ev.ToolName)
	case events.KindCompaction:
		fmt.Fprintf(out, "[compaction] summarized %d messages (%d chars)\n", ev.DroppedMessages, ev.SummaryChars)
	case events.KindRetry:
		fmt.Fprintf(out, "[retry] attempt %d after %s: %s\n", ev.Attempt, ev.Delay, ev.Error)
	case events.KindAgentError:
		fmt.Fprintf(out, "\n[error] %s\n", ev.Error)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
