package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"torii/internal/config"
	"torii/internal/state"
	"torii/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDump(t *testing.T) {
	cfg := config.Default()
	cfg.Database = filepath.Join(t.TempDir(), "journal.db")

	var out bytes.Buffer
	assert.Error(t, runDump(cfg, &out), "missing journal")

	j, err := store.OpenJournal(cfg.Database)
	require.NoError(t, err)
	st := state.New()
	st.Files["doc.py"] = "print(1)"
	require.NoError(t, j.Save(st))
	require.NoError(t, j.Close())

	require.NoError(t, runDump(cfg, &out))
	var dumped state.State
	require.NoError(t, json.Unmarshal(out.Bytes(), &dumped))
	assert.Equal(t, "print(1)", dumped.Files["doc.py"])
}
