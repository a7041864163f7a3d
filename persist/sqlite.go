package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/domino14/zerocoach/replay"
)

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS snapshots (
	generation INTEGER PRIMARY KEY,
	depth      INTEGER NOT NULL,
	slots      INTEGER NOT NULL,
	saved_at   TEXT NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS examples (
	generation INTEGER NOT NULL,
	slot       INTEGER NOT NULL,
	seq        INTEGER NOT NULL,
	example    BLOB NOT NULL,
	PRIMARY KEY (generation, slot, seq)
)`}

// SQLiteStore keeps every snapshot in one database file. A snapshot is the
// rows of one generation; slot is the position of a buffer within the
// history it was saved with.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema in %s: %w", path, err)
		}
	}
	return &SQLiteStore{path: path, db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Path(generation int) string {
	return s.path + "#" + strconv.Itoa(generation)
}

func (s *SQLiteStore) Save(ctx context.Context, generation int, h replay.History) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM examples WHERE generation = ?`, generation); err != nil {
		return "", err
	}
	gens := h.Generations()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (generation, depth, slots, saved_at) VALUES (?, ?, ?, ?)`,
		generation, h.Depth(), len(gens), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return "", err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO examples (generation, slot, seq, example) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for slot, gen := range gens {
		for seq, ex := range gen {
			if _, err := stmt.ExecContext(ctx, generation, slot, seq, replay.AppendExample(nil, ex)); err != nil {
				return "", fmt.Errorf("inserting example %d/%d: %w", slot, seq, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	path := s.Path(generation)
	log.Debug().Str("path", path).Int("examples", h.TotalExamples()).Msg("saved-examples")
	return path, nil
}

// Load accepts a path from Path, or an examples file name such as
// checkpoint_3.pth.tar.examples. Any other name, best.pth.tar.examples for
// one, loads the newest snapshot.
func (s *SQLiteStore) Load(ctx context.Context, path string) (replay.History, error) {
	generation, err := s.resolve(ctx, path)
	if err != nil {
		return replay.History{}, err
	}
	var depth, slots int
	err = s.db.QueryRowContext(ctx,
		`SELECT depth, slots FROM snapshots WHERE generation = ?`, generation).Scan(&depth, &slots)
	if errors.Is(err, sql.ErrNoRows) {
		return replay.History{}, notFound(path, nil)
	} else if err != nil {
		return replay.History{}, err
	}

	gens := make([][]replay.Example, slots)
	for i := range gens {
		gens[i] = []replay.Example{}
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT slot, example FROM examples WHERE generation = ? ORDER BY slot, seq`, generation)
	if err != nil {
		return replay.History{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var slot int
		var blob []byte
		if err := rows.Scan(&slot, &blob); err != nil {
			return replay.History{}, err
		}
		if slot < 0 || slot >= slots {
			return replay.History{}, fmt.Errorf("%w: slot %d outside snapshot of %d", replay.ErrMalformed, slot, slots)
		}
		ex, err := replay.ConsumeExample(blob)
		if err != nil {
			return replay.History{}, err
		}
		gens[slot] = append(gens[slot], ex)
	}
	if err := rows.Err(); err != nil {
		return replay.History{}, err
	}
	return replay.HistoryFromGenerations(depth, gens)
}

func (s *SQLiteStore) resolve(ctx context.Context, path string) (int, error) {
	if i := strings.LastIndex(path, "#"); i >= 0 {
		g, err := strconv.Atoi(path[i+1:])
		if err != nil {
			return 0, notFound(path, err)
		}
		return g, nil
	}
	if g, ok := GenerationFromFileName(filepath.Base(path)); ok {
		return g, nil
	}
	var g sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(generation) FROM snapshots`).Scan(&g); err != nil {
		return 0, err
	}
	if !g.Valid {
		return 0, notFound(path, nil)
	}
	return int(g.Int64), nil
}
