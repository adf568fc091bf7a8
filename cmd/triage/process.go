package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one request through the pipeline and print the final state",
	Example: `  triage process --content "I was charged twice, please refund"
  triage process --file request.json --session s-42`,
	RunE: runProcess,
}

var (
	procContent string
	procType    string
	procSession string
	procFile    string
)

func init() {
	processCmd.Flags().StringVar(&procContent, "content", "", "Request content")
	processCmd.Flags().StringVar(&procType, "type", "", "Request type (ticket, query, chat)")
	processCmd.Flags().StringVar(&procSession, "session", "", "Session id")
	processCmd.Flags().StringVar(&procFile, "file", "", "JSON file holding the request")
}

// buildInput merges the request file with the flag values. Flags win.
func buildInput(content, requestType, session, file string) (domain.Payload, error) {
	input := domain.Payload{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read request file: %w", err)
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("failed to parse request file %s: %w", file, err)
		}
		if input == nil {
			input = domain.Payload{}
		}
	}
	if content != "" {
		input["content"] = content
	}
	if requestType != "" {
		input["type"] = requestType
	}
	if session != "" {
		input["sessionId"] = session
	}
	if len(input) == 0 {
		return nil, errors.New("either --content or --file is required")
	}
	return input, nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	input, err := buildInput(procContent, procType, procSession, procFile)
	if err != nil {
		return err
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
		defer cancel()
		a.close(shutdownCtx)
	}()

	state, runErr := a.manager.Submit(ctx, input)
	if runErr != nil {
		logger.Warn("run aborted", zap.String("run_id", state.ID()), zap.Error(runErr))
	}

	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return runErr
}
