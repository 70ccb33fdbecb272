package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"linewire/internal/journal"
	"linewire/internal/wire"
)

func seedJournal(t *testing.T, path string, count int) {
	t.Helper()

	store, err := journal.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer store.Close()

	for i := 0; i < count; i++ {
		ev := wire.Event{
			Type: "event",
			Data: json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
		}
		if _, err := store.Record(context.Background(), ev); err != nil {
			t.Fatalf("record event %d: %v", i, err)
		}
	}
}

func TestJournalListShowsEntries(t *testing.T) {
	env := setupCLITestEnv(t)
	seedJournal(t, env.journalPath, 3)

	out, _, err := runCLI(t, []string{"journal", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("journal list: %v", err)
	}
	requireContains(t, out, `{"seq":2}`)
	// go-pretty renders headers upper-cased.
	requireContains(t, out, "PAYLOAD")
}

func TestJournalListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	seedJournal(t, env.journalPath, 0)

	out, _, err := runCLI(t, []string{"journal", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("journal list: %v", err)
	}
	requireContains(t, out, "journal is empty")
}

func TestJournalListHonorsLimit(t *testing.T) {
	env := setupCLITestEnv(t)
	seedJournal(t, env.journalPath, 5)

	out, _, err := runCLI(t, []string{"journal", "list", "--limit", "2"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("journal list: %v", err)
	}
	requireContains(t, out, `{"seq":4}`)
	requireContains(t, out, `{"seq":3}`)
	if strings.Contains(out, `{"seq":2}`) {
		t.Fatalf("expected limit to hide older entries, got:\n%s", out)
	}
}

func TestJournalPrune(t *testing.T) {
	env := setupCLITestEnv(t)
	seedJournal(t, env.journalPath, 4)

	// fresh entries survive a retention-window prune
	out, _, err := runCLI(t, []string{"journal", "prune", "--days", "7"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("journal prune: %v", err)
	}
	requireContains(t, out, "pruned 0 entries")
}
