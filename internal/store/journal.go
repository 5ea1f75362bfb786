package store

import (
	"database/sql"
	"fmt"

	"torii/internal/state"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 1

// Journal persists store snapshots in SQLite so a new panel can pick up
// where the last one left off. Selections are transient and not kept.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
        PRAGMA foreign_keys = ON;
        PRAGMA journal_mode = WAL;
    `); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	queries := []string{
		// Reference text of every uploaded file.
		`CREATE TABLE IF NOT EXISTS files (
            path TEXT PRIMARY KEY,
            contents TEXT NOT NULL
        )`,

		// Chunks keep the anchor line they were created with.
		`CREATE TABLE IF NOT EXISTS chunks (
            id TEXT PRIMARY KEY,
            path TEXT NOT NULL,
            line INTEGER NOT NULL,
            name TEXT NOT NULL DEFAULT ''
        )`,

		// Versions are owned by one chunk; seq orders them within it.
		`CREATE TABLE IF NOT EXISTS chunk_versions (
            id TEXT PRIMARY KEY,
            chunk_id TEXT NOT NULL,
            seq INTEGER NOT NULL,
            text TEXT NOT NULL,
            FOREIGN KEY (chunk_id) REFERENCES chunks(id) ON DELETE CASCADE
        )`,

		`CREATE TABLE IF NOT EXISTS snippets (
            id TEXT PRIMARY KEY,
            position INTEGER NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS snippet_versions (
            snippet_id TEXT NOT NULL,
            seq INTEGER NOT NULL,
            version_id TEXT NOT NULL,
            PRIMARY KEY (snippet_id, seq),
            FOREIGN KEY (snippet_id) REFERENCES snippets(id) ON DELETE CASCADE
        )`,
	}
	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return tx.Commit()
}

// Save replaces the journal contents with s.
func (j *Journal) Save(s *state.State) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"snippet_versions", "snippets", "chunk_versions", "chunks", "files"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for path, contents := range s.Files {
		if _, err := tx.Exec(
			"INSERT INTO files (path, contents) VALUES (?, ?)",
			path, contents,
		); err != nil {
			return fmt.Errorf("failed to insert file %s: %w", path, err)
		}
	}

	for _, c := range s.Chunks {
		if _, err := tx.Exec(
			"INSERT INTO chunks (id, path, line, name) VALUES (?, ?, ?, ?)",
			c.ID, c.Path, c.Line, c.Name,
		); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
		for seq, vid := range c.Versions {
			v, ok := s.ChunkVersions[vid]
			if !ok {
				continue
			}
			if _, err := tx.Exec(
				"INSERT INTO chunk_versions (id, chunk_id, seq, text) VALUES (?, ?, ?, ?)",
				v.ID, c.ID, seq, v.Text,
			); err != nil {
				return fmt.Errorf("failed to insert chunk version %s: %w", v.ID, err)
			}
		}
	}

	for pos, sn := range s.Snippets {
		if _, err := tx.Exec(
			"INSERT INTO snippets (id, position) VALUES (?, ?)",
			sn.ID, pos,
		); err != nil {
			return fmt.Errorf("failed to insert snippet %s: %w", sn.ID, err)
		}
		for seq, vid := range sn.ChunkVersionIDs {
			if _, err := tx.Exec(
				"INSERT INTO snippet_versions (snippet_id, seq, version_id) VALUES (?, ?, ?)",
				sn.ID, seq, vid,
			); err != nil {
				return fmt.Errorf("failed to insert snippet version: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Load reads the last saved snapshot. An empty journal yields an empty state.
func (j *Journal) Load() (*state.State, error) {
	s := state.New()

	rows, err := j.db.Query("SELECT path, contents FROM files")
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	err = each(rows, "file", func() error {
		var path, contents string
		if err := rows.Scan(&path, &contents); err != nil {
			return err
		}
		s.Files[path] = contents
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err = j.db.Query("SELECT id, path, line, name FROM chunks")
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	err = each(rows, "chunk", func() error {
		var c state.Chunk
		if err := rows.Scan(&c.ID, &c.Path, &c.Line, &c.Name); err != nil {
			return err
		}
		s.Chunks[c.ID] = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err = j.db.Query("SELECT id, chunk_id, text FROM chunk_versions ORDER BY chunk_id, seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk versions: %w", err)
	}
	err = each(rows, "chunk version", func() error {
		var v state.ChunkVersion
		if err := rows.Scan(&v.ID, &v.ChunkID, &v.Text); err != nil {
			return err
		}
		s.ChunkVersions[v.ID] = v
		c := s.Chunks[v.ChunkID]
		c.Versions = append(c.Versions, v.ID)
		s.Chunks[v.ChunkID] = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err = j.db.Query(`
        SELECT s.id, sv.version_id
        FROM snippets s
        LEFT JOIN snippet_versions sv ON sv.snippet_id = s.id
        ORDER BY s.position, sv.seq
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query snippets: %w", err)
	}
	err = each(rows, "snippet", func() error {
		var id string
		var vid sql.NullString
		if err := rows.Scan(&id, &vid); err != nil {
			return err
		}
		if n := len(s.Snippets); n == 0 || s.Snippets[n-1].ID != id {
			s.Snippets = append(s.Snippets, state.Snippet{ID: id})
		}
		if vid.Valid {
			last := &s.Snippets[len(s.Snippets)-1]
			last.ChunkVersionIDs = append(last.ChunkVersionIDs, vid.String)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

type rowIterator interface {
	Next() bool
	Err() error
	Close() error
}

// each calls scan for every row, then closes rows. An error that ended the
// iteration early fails the whole read rather than truncating it.
func each(rows rowIterator, what string, scan func() error) error {
	defer rows.Close()
	for rows.Next() {
		if err := scan(); err != nil {
			return fmt.Errorf("failed to scan %s: %w", what, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read %s rows: %w", what, err)
	}
	return nil
}

// Follow saves every snapshot st publishes until the returned func is called.
func (j *Journal) Follow(st Store) func() {
	return st.Subscribe(func(s *state.State) {
		if err := j.Save(s); err != nil {
			log.Errorf("journal save failed: %v", err)
		}
	})
}
