package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	eventsredis "github.com/aescanero/triage/pkg/adapters/events/redis"
	"github.com/aescanero/triage/pkg/domain"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the most recent events mirrored to the Redis stream",
	Long: `Events reads the Redis stream that a running server mirrors its event
bus into. It needs REDIS_ENABLED=true and the same REDIS_* and
EVENTS_STREAM_KEY settings as the server.`,
	RunE: runEvents,
}

var eventsLimit int64

func init() {
	eventsCmd.Flags().Int64Var(&eventsLimit, "limit", 20, "Number of events to show")
}

// eventStream is the read side of the stream mirror.
type eventStream interface {
	Recent(ctx context.Context, limit int64) ([]domain.Event, error)
	Len(ctx context.Context) (int64, error)
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.Redis.Enabled {
		return errors.New("the event stream needs REDIS_ENABLED=true")
	}

	client := newRedisClient(cfg)
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	mirror := eventsredis.NewStreamsMirror(client, cfg.Events.StreamKey, cfg.Events.StreamMaxLen, logger)
	return printStream(ctx, cmd.OutOrStdout(), mirror, eventsLimit)
}

func printStream(ctx context.Context, out io.Writer, stream eventStream, limit int64) error {
	total, err := stream.Len(ctx)
	if err != nil {
		return err
	}
	events, err := stream.Recent(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%d events in stream, showing %d\n", total, len(events))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tTYPE\tRUN\tDATA")
	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			data = []byte("?")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			ev.Seq, ev.Timestamp.Format("15:04:05.000"), ev.Type, ev.RunID, oneLine(string(data), 80))
	}
	return w.Flush()
}
