package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/aescanero/triage/pkg/adapters/memorystore"
	"github.com/aescanero/triage/pkg/domain"
	"github.com/spf13/cobra"
)

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "Inspect and manage the memory store",
}

var memoriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memory entries",
	RunE:  runMemoriesList,
}

var memoriesDeleteCmd = &cobra.Command{
	Use:   "delete <type> <id>",
	Short: "Delete one memory entry",
	Args:  cobra.ExactArgs(2),
	RunE:  runMemoriesDelete,
}

var memoriesClearCmd = &cobra.Command{
	Use:   "clear-session <session-id>",
	Short: "Drop the working memory of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoriesClear,
}

var memoriesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of entries per memory type",
	RunE:  runMemoriesStats,
}

var (
	memType  string
	memLimit int
)

func init() {
	memoriesCmd.AddCommand(memoriesListCmd, memoriesDeleteCmd, memoriesClearCmd, memoriesStatsCmd)

	memoriesListCmd.Flags().StringVar(&memType, "type", "all", "Memory type: working, episodic, semantic or all")
	memoriesListCmd.Flags().IntVar(&memLimit, "limit", 20, "Maximum entries per type")
}

// withMemory opens the memory store for the duration of fn.
func withMemory(fn func(ctx context.Context, store *memorystore.Store) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := openMemory(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(context.Background(), store)
}

func runMemoriesList(cmd *cobra.Command, args []string) error {
	kinds := domain.MemoryKinds
	if memType != "all" {
		kind, err := domain.ParseMemoryKind(memType)
		if err != nil {
			return err
		}
		kinds = []domain.MemoryKind{kind}
	}

	return withMemory(func(ctx context.Context, store *memorystore.Store) error {
		for _, kind := range kinds {
			if err := printMemories(ctx, cmd.OutOrStdout(), store, kind, memLimit); err != nil {
				return err
			}
		}
		return nil
	})
}

func printMemories(ctx context.Context, out io.Writer, store *memorystore.Store, kind domain.MemoryKind, limit int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(out, "== %s ==\n", kind)

	switch kind {
	case domain.MemoryWorking:
		entries, err := store.ListWorking(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "ID\tSESSION\tKEY\tVALUE\tEXPIRES")
		for _, e := range entries {
			expires := "-"
			if e.ExpiresAt != nil {
				expires = e.ExpiresAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%v\t%s\n", e.ID, e.SessionID, e.Key, e.Value, expires)
		}
	case domain.MemoryEpisodic:
		records, err := store.ListEpisodic(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "ID\tCONVERSATION\tEVENT\tOUTCOME\tCONTENT")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.ConversationID, r.EventType, r.Outcome, oneLine(r.Content, 60))
		}
	case domain.MemorySemantic:
		records, err := store.ListSemantic(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "ID\tKEY\tCATEGORY\tACCESSES\tCONTENT")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", r.ID, r.Key, r.Category, r.AccessCount, oneLine(r.Content, 60))
		}
	}
	return w.Flush()
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}

func runMemoriesDelete(cmd *cobra.Command, args []string) error {
	kind, err := domain.ParseMemoryKind(args[0])
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid memory id %q: %w", args[1], err)
	}

	return withMemory(func(ctx context.Context, store *memorystore.Store) error {
		deleted, err := store.Delete(ctx, kind, id)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%s memory %d: %w", kind, id, domain.ErrNotFound)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s memory %d\n", kind, id)
		return nil
	})
}

func runMemoriesClear(cmd *cobra.Command, args []string) error {
	return withMemory(func(ctx context.Context, store *memorystore.Store) error {
		if err := store.ClearWorking(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared working memory for session %s\n", args[0])
		return nil
	})
}

func runMemoriesStats(cmd *cobra.Command, args []string) error {
	return withMemory(func(ctx context.Context, store *memorystore.Store) error {
		counts, err := store.Counts(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tENTRIES")
		for _, kind := range domain.MemoryKinds {
			fmt.Fprintf(w, "%s\t%d\n", kind, counts[kind])
		}
		return w.Flush()
	})
}
