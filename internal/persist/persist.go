// Package persist implements the gateway's persisted-state file: the
// router password per router, the last-applied mudlist/chanlist ids, and
// the last-known list snapshots, loaded on startup and snapshotted on
// clean shutdown and every 60s, on an embedded SQLite database behind a
// migrations-slice schema.
package persist

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"i3gw/gateway/internal/lpc"
)

// migrations holds the ordered list of DDL statements that bring the
// persisted-state schema up to date. Index i corresponds to version i+1.
// Never edit or reorder existing entries — append new ones.
var migrations = []string{
	// v1 — router passwords, keyed by router endpoint name.
	`CREATE TABLE IF NOT EXISTS router_passwords (
		router     TEXT PRIMARY KEY,
		password   INTEGER NOT NULL DEFAULT 0
	)`,
	// v2 — gateway-wide last-applied list ids and snapshots.
	`CREATE TABLE IF NOT EXISTS list_state (
		id            INTEGER PRIMARY KEY CHECK (id = 1),
		mudlist_id    INTEGER NOT NULL DEFAULT 0,
		chanlist_id   INTEGER NOT NULL DEFAULT 0,
		last_mudlist  TEXT NOT NULL DEFAULT '[]',
		last_chanlist TEXT NOT NULL DEFAULT '[]'
	)`,
	`PRAGMA journal_mode=WAL`,
}

// State is the persisted-state layout: router passwords, the two
// monotonic list ids, and the last-known list contents for cold-start
// seeding of the state store.
type State struct {
	RouterPasswords map[string]int64
	MudlistID       int64
	ChanlistID      int64
	LastMudlist     lpc.Mapping
	LastChanlist    lpc.Mapping
}

// Empty returns a cold-start State: password=0, mudlist_id=0,
// chanlist_id=0.
func Empty() State {
	return State{RouterPasswords: map[string]int64{}}
}

// Store owns the persisted-state SQLite file.
type Store struct {
	log *slog.Logger
	db  *sql.DB
}

// Open opens (or creates) the persisted-state database at path and applies
// any pending migrations. Use ":memory:" for ephemeral storage in tests.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Warn("persist: busy_timeout", "err", err)
	}

	s := &Store{log: log, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		s.log.Info("persist: applied migration", "version", v)
	}
	return nil
}

// Load reads the persisted State. A missing list_state row (first run)
// returns Empty() rather than an error.
func (s *Store) Load() (State, error) {
	st := Empty()

	rows, err := s.db.Query(`SELECT router, password FROM router_passwords`)
	if err != nil {
		return st, fmt.Errorf("persist: load passwords: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var router string
		var pw int64
		if err := rows.Scan(&router, &pw); err != nil {
			return st, fmt.Errorf("persist: scan password: %w", err)
		}
		st.RouterPasswords[router] = pw
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("persist: iterate passwords: %w", err)
	}

	var mudlistID, chanlistID int64
	var lastMudlistJSON, lastChanlistJSON string
	err = s.db.QueryRow(
		`SELECT mudlist_id, chanlist_id, last_mudlist, last_chanlist FROM list_state WHERE id = 1`,
	).Scan(&mudlistID, &chanlistID, &lastMudlistJSON, &lastChanlistJSON)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("persist: load list_state: %w", err)
	}
	st.MudlistID = mudlistID
	st.ChanlistID = chanlistID
	if lastMudlistJSON != "" {
		if m, err := unmarshalMapping(lastMudlistJSON); err == nil {
			st.LastMudlist = m
		}
	}
	if lastChanlistJSON != "" {
		if m, err := unmarshalMapping(lastChanlistJSON); err == nil {
			st.LastChanlist = m
		}
	}
	return st, nil
}

// Save snapshots State to disk: on clean shutdown and every 60s. The
// router_passwords table is rewritten wholesale — the password set is
// small (one entry per configured router) so a full replace is simpler
// than diffing.
func (s *Store) Save(st State) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("persist: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM router_passwords`); err != nil {
		return fmt.Errorf("persist: clear passwords: %w", err)
	}
	for router, pw := range st.RouterPasswords {
		if _, err := tx.Exec(
			`INSERT INTO router_passwords(router, password) VALUES(?, ?)`, router, pw,
		); err != nil {
			return fmt.Errorf("persist: save password %q: %w", router, err)
		}
	}

	lastMudlistJSON, err := marshalMapping(st.LastMudlist)
	if err != nil {
		return fmt.Errorf("persist: marshal last_mudlist: %w", err)
	}
	lastChanlistJSON, err := marshalMapping(st.LastChanlist)
	if err != nil {
		return fmt.Errorf("persist: marshal last_chanlist: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO list_state(id, mudlist_id, chanlist_id, last_mudlist, last_chanlist)
		 VALUES(1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   mudlist_id = excluded.mudlist_id,
		   chanlist_id = excluded.chanlist_id,
		   last_mudlist = excluded.last_mudlist,
		   last_chanlist = excluded.last_chanlist`,
		st.MudlistID, st.ChanlistID, lastMudlistJSON, lastChanlistJSON,
	); err != nil {
		return fmt.Errorf("persist: save list_state: %w", err)
	}

	return tx.Commit()
}

// Backup snapshots the entire database file to dest using SQLite's VACUUM
// INTO: a single statement yielding a consistent, compacted copy without a
// separate reader connection or manual page copying.
func (s *Store) Backup(dest string) error {
	_, err := s.db.Exec(`VACUUM INTO ?`, dest)
	if err != nil {
		return fmt.Errorf("persist: backup: %w", err)
	}
	return nil
}

// jsonEntry is the JSON wire shape for one lpc.Mapping entry; LPC mapping
// keys/values round-trip through the codec's own value tags so a restored
// mapping feeds straight back into internal/state's delta-apply path.
type jsonEntry struct {
	Key json.RawMessage `json:"k"`
	Val json.RawMessage `json:"v"`
}

func marshalMapping(m lpc.Mapping) (string, error) {
	if m == nil {
		return "[]", nil
	}
	entries := make([]jsonEntry, 0, len(m))
	for _, e := range m {
		k, err := marshalLPCValue(e.Key)
		if err != nil {
			return "", err
		}
		v, err := marshalLPCValue(e.Val)
		if err != nil {
			return "", err
		}
		entries = append(entries, jsonEntry{Key: k, Val: v})
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMapping(s string) (lpc.Mapping, error) {
	var entries []jsonEntry
	if err := json.Unmarshal([]byte(s), &entries); err != nil {
		return nil, err
	}
	out := make(lpc.Mapping, 0, len(entries))
	for _, e := range entries {
		k, err := unmarshalLPCValue(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := unmarshalLPCValue(e.Val)
		if err != nil {
			return nil, err
		}
		out = append(out, lpc.MapEntry{Key: k, Val: v})
	}
	return out, nil
}

// lpcJSON is the tagged JSON envelope for one LPC value, mirroring the
// wire's own tag-then-payload shape instead of inventing an
// unrelated JSON schema.
type lpcJSON struct {
	Tag string          `json:"t"`
	Val json.RawMessage `json:"v,omitempty"`
}

func marshalLPCValue(v lpc.Value) (json.RawMessage, error) {
	var env lpcJSON
	switch val := v.(type) {
	case lpc.Null, nil:
		env.Tag = "null"
	case lpc.Int:
		env.Tag = "int"
		b, _ := json.Marshal(int64(val))
		env.Val = b
	case lpc.Float:
		env.Tag = "float"
		b, _ := json.Marshal(float64(val))
		env.Val = b
	case lpc.String:
		env.Tag = "string"
		b, _ := json.Marshal(string(val))
		env.Val = b
	case lpc.Array:
		env.Tag = "array"
		items := make([]json.RawMessage, len(val))
		for i, e := range val {
			item, err := marshalLPCValue(e)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		b, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}
		env.Val = b
	case lpc.Mapping:
		env.Tag = "mapping"
		s, err := marshalMapping(val)
		if err != nil {
			return nil, err
		}
		env.Val = json.RawMessage(s)
	case lpc.Buffer:
		env.Tag = "buffer"
		b, _ := json.Marshal([]byte(val))
		env.Val = b
	default:
		return nil, fmt.Errorf("persist: unknown lpc.Value type %T", v)
	}
	return json.Marshal(env)
}

func unmarshalLPCValue(raw json.RawMessage) (lpc.Value, error) {
	var env lpcJSON
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch env.Tag {
	case "null":
		return lpc.Null{}, nil
	case "int":
		var i int64
		if err := json.Unmarshal(env.Val, &i); err != nil {
			return nil, err
		}
		return lpc.Int(i), nil
	case "float":
		var f float64
		if err := json.Unmarshal(env.Val, &f); err != nil {
			return nil, err
		}
		return lpc.Float(f), nil
	case "string":
		var s string
		if err := json.Unmarshal(env.Val, &s); err != nil {
			return nil, err
		}
		return lpc.String(s), nil
	case "array":
		var items []json.RawMessage
		if err := json.Unmarshal(env.Val, &items); err != nil {
			return nil, err
		}
		out := make(lpc.Array, len(items))
		for i, item := range items {
			v, err := unmarshalLPCValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case "mapping":
		return unmarshalMapping(string(env.Val))
	case "buffer":
		var b []byte
		if err := json.Unmarshal(env.Val, &b); err != nil {
			return nil, err
		}
		return lpc.Buffer(b), nil
	default:
		return nil, fmt.Errorf("persist: unknown lpc tag %q", env.Tag)
	}
}
