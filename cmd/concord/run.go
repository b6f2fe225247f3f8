package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/praxislabs/concord/internal/coordinator"
	"github.com/praxislabs/concord/internal/llm"
	"github.com/praxislabs/concord/internal/streaming"
)

func newRunCmd() *cobra.Command {
	var (
		title        string
		strategyName string
		agentIDs     []string
		showEvents   bool
	)

	cmd := &cobra.Command{
		Use:   "run [document-file]",
		Short: "Analyze one document and print the consensus report",
		Long:  "Reads the document from the given file, or stdin when omitted, runs the full pipeline and prints the report as JSON.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			text, source, err := readDocument(args)
			if err != nil {
				return err
			}
			if title == "" {
				title = source
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := llm.NewHTTPClient(cfg.Backend.BaseURL, llm.Options{
				Timeout:    cfg.Backend.Timeout,
				MaxRetries: cfg.Backend.MaxRetries,
				APIKey:     cfg.Backend.APIKey,
			}, logger)
			streams := streaming.NewManager(0)
			coord := coordinator.New(cfg, client, streams, nil, logger)

			runID, err := coord.Start(ctx, coordinator.Request{
				Title:    title,
				Source:   source,
				Text:     text,
				Strategy: strategyName,
				AgentIDs: agentIDs,
			})
			if err != nil {
				return err
			}

			if showEvents {
				ch := streams.Subscribe(runID, 256)
				go func() {
					for evt := range ch {
						fmt.Fprintf(os.Stderr, "[%s] %s %s %s\n",
							evt.Timestamp.Format("15:04:05"), evt.Type, evt.AgentID, evt.Message)
					}
				}()
				defer streams.Unsubscribe(runID, ch)
			}

			if err := coord.Wait(ctx, runID); err != nil {
				// Interrupted: ask for cancellation and wait for the partial
				// report to land.
				_ = coord.Cancel(runID)
				if werr := coord.Wait(context.Background(), runID); werr != nil {
					return werr
				}
			}

			report, err := coord.Report(runID)
			if err != nil {
				status, serr := coord.Status(runID)
				if serr == nil && status.Error != "" {
					return fmt.Errorf("run failed: %s", status.Error)
				}
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "document title (default: file name)")
	cmd.Flags().StringVar(&strategyName, "strategy", "parallel", "execution strategy: parallel, staged, priority, adaptive")
	cmd.Flags().StringSliceVar(&agentIDs, "agents", nil, "restrict the roster to these agent IDs")
	cmd.Flags().BoolVar(&showEvents, "events", false, "print run events to stderr while the run progresses")
	return cmd
}

func readDocument(args []string) (text, source string, err error) {
	if len(args) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), "stdin", nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", err
	}
	return string(b), filepath.Base(args[0]), nil
}
