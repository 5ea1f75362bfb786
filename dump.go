package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"torii/internal/config"
	"torii/internal/store"
)

func runDump(cfg config.Config, w io.Writer) error {
	path, err := cfg.DatabasePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no journal at %s: %w", path, err)
	}

	j, err := store.OpenJournal(path)
	if err != nil {
		return err
	}
	defer j.Close()

	st, err := j.Load()
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(st)
}
