package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aescanero/triage/pkg/adapters/memorystore"
	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load knowledge entries and past episodes into the memory store",
	Long: `Seed reads a YAML file of the form

  knowledge:
    - key: password-reset
      content: Use the self-service portal to reset your password.
      category: account
      tags: [password, portal]
  episodes:
    - event_type: resolution
      content: Refund issued for a duplicate charge.
      outcome: auto

and writes knowledge entries to semantic memory (upserting by key) and
episodes to episodic memory.`,
	RunE: runSeed,
}

var seedFile string

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML seed file (required)")
	_ = seedCmd.MarkFlagRequired("file")
}

// SeedFile is the seed document.
type SeedFile struct {
	Knowledge []domain.SemanticWrite `yaml:"knowledge"`
	Episodes  []domain.EpisodicWrite `yaml:"episodes"`
}

func loadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	for i, k := range file.Knowledge {
		if k.Key == "" || k.Content == "" {
			return nil, fmt.Errorf("knowledge entry %d: key and content are required", i)
		}
	}
	for i, e := range file.Episodes {
		if e.EventType == "" || e.Content == "" {
			return nil, fmt.Errorf("episode %d: event_type and content are required", i)
		}
	}
	if len(file.Knowledge) == 0 && len(file.Episodes) == 0 {
		return nil, fmt.Errorf("seed file %s has no knowledge or episodes", path)
	}
	return &file, nil
}

// seedMemory writes the seed document and returns how many knowledge entries
// and episodes were stored.
func seedMemory(ctx context.Context, store ports.MemoryStore, file *SeedFile) (int, int, error) {
	for i, k := range file.Knowledge {
		if err := store.WriteSemantic(ctx, k); err != nil {
			return i, 0, fmt.Errorf("knowledge %q: %w", k.Key, err)
		}
	}
	for i, e := range file.Episodes {
		if _, err := store.WriteEpisodic(ctx, e); err != nil {
			return len(file.Knowledge), i, fmt.Errorf("episode %d: %w", i, err)
		}
	}
	return len(file.Knowledge), len(file.Episodes), nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	file, err := loadSeedFile(seedFile)
	if err != nil {
		return err
	}

	return withMemory(func(ctx context.Context, store *memorystore.Store) error {
		knowledge, episodes, err := seedMemory(ctx, store, file)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d knowledge entries and %d episodes\n", knowledge, episodes)
		return nil
	})
}
