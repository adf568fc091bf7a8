package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	eventsredis "github.com/aescanero/triage/pkg/adapters/events/redis"
	"github.com/aescanero/triage/pkg/adapters/memorystore"
	"github.com/aescanero/triage/pkg/domain"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newStore(t *testing.T) *memorystore.Store {
	t.Helper()
	store, err := memorystore.New(filepath.Join(t.TempDir(), "memory.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

const seedYAML = `
knowledge:
  - key: password-reset
    content: Use the self-service portal to reset your password.
    category: account
    tags: [password, portal]
  - key: refund-policy
    content: Duplicate charges are refunded within five business days.
    category: billing
episodes:
  - event_type: resolution
    content: Refund issued for a duplicate charge.
    conversation_id: s-1
    outcome: auto
`

func TestSeed_LoadsKnowledgeAndEpisodes(t *testing.T) {
	file, err := loadSeedFile(writeFile(t, "kb.yaml", seedYAML))
	require.NoError(t, err)
	require.Len(t, file.Knowledge, 2)
	assert.Equal(t, []string{"password", "portal"}, file.Knowledge[0].Tags)

	store := newStore(t)
	ctx := context.Background()
	knowledge, episodes, err := seedMemory(ctx, store, file)
	require.NoError(t, err)
	assert.Equal(t, 2, knowledge)
	assert.Equal(t, 1, episodes)

	records, err := store.ReadSemantic(ctx, domain.SemanticQuery{Key: "refund-policy"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "billing", records[0].Category)

	eps, err := store.ReadEpisodic(ctx, domain.EpisodicFilter{ConversationID: "s-1"})
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "auto", eps[0].Outcome)

	// Seeding twice upserts knowledge by key.
	_, _, err = seedMemory(ctx, store, file)
	require.NoError(t, err)
	all, err := store.ListSemantic(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSeed_RejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", "knowledge: []\n"},
		{"missing key", "knowledge:\n  - content: orphan\n"},
		{"missing event type", "episodes:\n  - content: what happened\n"},
		{"not yaml", "knowledge: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadSeedFile(writeFile(t, "kb.yaml", tt.content))
			assert.Error(t, err)
		})
	}

	_, err := loadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuildInput(t *testing.T) {
	input, err := buildInput("refund please", "ticket", "s-9", "")
	require.NoError(t, err)
	assert.Equal(t, domain.Payload{"content": "refund please", "type": "ticket", "sessionId": "s-9"}, input)

	path := writeFile(t, "request.json", `{"content":"from file","priority":"high"}`)
	input, err = buildInput("", "", "s-1", path)
	require.NoError(t, err)
	assert.Equal(t, "from file", input.String("content"))
	assert.Equal(t, "high", input.String("priority"))
	assert.Equal(t, "s-1", input.String("sessionId"))

	input, err = buildInput("override", "", "", path)
	require.NoError(t, err)
	assert.Equal(t, "override", input.String("content"))

	_, err = buildInput("", "", "", "")
	assert.Error(t, err)

	_, err = buildInput("", "", "", writeFile(t, "bad.json", "{"))
	assert.Error(t, err)
}

func TestPrintMemories(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.WriteSemantic(ctx, domain.SemanticWrite{Key: "vpn", Content: "Restart the   VPN\nclient", Category: "network"}))
	require.NoError(t, store.WriteWorking(ctx, "s-1", "last_route", "auto", time.Hour))

	var out bytes.Buffer
	require.NoError(t, printMemories(ctx, &out, store, domain.MemorySemantic, 10))
	assert.Contains(t, out.String(), "== semantic ==")
	assert.Contains(t, out.String(), "vpn")
	assert.Contains(t, out.String(), "Restart the VPN client")

	out.Reset()
	require.NoError(t, printMemories(ctx, &out, store, domain.MemoryWorking, 10))
	assert.Contains(t, out.String(), "last_route")
	assert.Contains(t, out.String(), "s-1")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine(" a\n b\tc ", 10))
	assert.Equal(t, "abc...", oneLine("abcdef", 3))
}

func TestPrintStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	mirror := eventsredis.NewStreamsMirror(client, "", 0, zaptest.NewLogger(t))
	for i := 1; i <= 3; i++ {
		require.NoError(t, mirror.Handle(ctx, domain.Event{
			Type:  domain.EventTypeStageCompleted,
			RunID: "run-7",
			Seq:   uint64(i),
			Data:  map[string]interface{}{"stage": "intent"},
		}))
	}

	var out bytes.Buffer
	require.NoError(t, printStream(ctx, &out, mirror, 2))
	assert.Contains(t, out.String(), "3 events in stream, showing 2")
	assert.Contains(t, out.String(), "run-7")
	assert.Contains(t, out.String(), `{"stage":"intent"}`)
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 4)

	mr.Close()
	assert.Error(t, printStream(ctx, &out, mirror, 2))
}
