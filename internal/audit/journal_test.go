package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_AppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := NewJournal(path, 10)
	require.NoError(t, err)

	j.Record(Entry{EventType: EventEntryOpened, Mint: "MintA", Detail: "composite=0.91"})
	j.Record(Entry{EventType: EventExit, Mint: "MintA", Reason: "PROFIT_TARGET", PnLUSDC: decimal.NewFromFloat(0.04)})
	require.NoError(t, j.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, EventEntryOpened, entries[0].EventType)
	assert.Equal(t, "PROFIT_TARGET", entries[1].Reason)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestJournal_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	j1, err := NewJournal(path, 0)
	require.NoError(t, err)
	j1.Record(Entry{EventType: EventSignal, Mint: "MintB", Reason: "stop_loss_exit"})
	require.NoError(t, j1.Close())

	j2, err := NewJournal(path, 0)
	require.NoError(t, err)
	j2.Record(Entry{EventType: EventSignal, Mint: "MintB", Reason: "stop_loss_exit"})
	require.NoError(t, j2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))
}

func TestJournal_RecentTailBounded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := NewJournal(path, 3)
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 5; i++ {
		j.Record(Entry{EventType: EventEntryFailed, Mint: "MintC"})
	}
	assert.Len(t, j.Recent(), 3)
}

func TestJournal_NilIsNoop(t *testing.T) {
	var j *Journal
	j.Record(Entry{EventType: EventExit})
	assert.Nil(t, j.Recent())
	assert.NoError(t, j.Close())
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
