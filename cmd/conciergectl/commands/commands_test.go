package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seed = `
properties:
  - id: sea-view
    name: Sea View
    faqs:
      - question: Where can I park?
        answer: Garage spot 12.
    staff:
      - id: maria
        name: Maria
        phone: "15550000010"
        role: maintenance
`

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd("test")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(dir, "concierge.db"))
	t.Setenv("LOG_FILE", "")
	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("REDIS_URL", "")
	t.Setenv("KNOWLEDGE_SEED_FILE", "")

	seedFile := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedFile, []byte(seed), 0o644))

	run(t, "migrate")
	assert.Equal(t, "seeded 1 properties, 1 FAQs, 1 staff\n", run(t, "seed", seedFile))

	var sweep map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(run(t, "sweep")), &sweep))
	assert.EqualValues(t, 0, sweep["due"])
	assert.Equal(t, false, sweep["skipped"])

	assert.Equal(t, "0 message(s) reset to pending\n", run(t, "retry-failed", "--booking", "bk-1"))

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(run(t, "stats")), &stats))
	assert.Contains(t, stats, "by_status")

	t.Setenv("DB_PATH", filepath.Join(dir, "copy.db"))
	var copied map[string]int
	require.NoError(t, json.Unmarshal([]byte(run(t, "copy-data", "--from", filepath.Join(dir, "concierge.db"))), &copied))
	assert.Equal(t, 1, copied["properties"])
}
