package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/relbind/internal/ir"
	"github.com/roach88/relbind/internal/queryir"
	"github.com/roach88/relbind/internal/querysql"
)

// SQLite is a Store backed by a SQLite database, one STRICT table per
// relation. Uses WAL mode for concurrent read access.
type SQLite struct {
	db       *sql.DB
	rdb      *sql.DB
	schemes  []ir.Scheme
	byName   map[string]ir.Scheme
	compiler *querysql.Compiler
}

var _ Store = (*SQLite)(nil)

// OpenSQLite creates or opens a SQLite database at the given path and
// creates a table for every scheme that does not exist yet.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - BEGIN IMMEDIATE transactions, so a write lock is taken up front
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(path string, schemes ...ir.Scheme) (*SQLite, error) {
	byName, err := validateSchemes(schemes)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// A single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db, schemes); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	rdb := db
	if !inMemory(path) {
		rdb, err = sql.Open("sqlite3", readerDSN(path))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open reader: %w", err)
		}
		rdb.SetMaxOpenConns(4)
	}

	return &SQLite{
		db:       db,
		rdb:      rdb,
		schemes:  slices.Clone(schemes),
		byName:   byName,
		compiler: querysql.NewCompiler(schemes...),
	}, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates relation tables and checks the format version.
// This function is idempotent.
func applySchema(db *sql.DB, schemes []ir.Scheme) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > ir.FormatVersion {
		return fmt.Errorf("database format %d is newer than supported format %d", version, ir.FormatVersion)
	}

	for _, s := range schemes {
		if _, err := db.Exec(querysql.CreateTable(s)); err != nil {
			return fmt.Errorf("create table %q: %w", s.Name, err)
		}
		if err := checkColumns(db, s); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", ir.FormatVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// checkColumns verifies an existing table has the scheme's columns.
func checkColumns(db *sql.DB, s ir.Scheme) error {
	rows, err := db.Query("SELECT name FROM pragma_table_info(?) ORDER BY cid", s.Name)
	if err != nil {
		return fmt.Errorf("inspect table %q: %w", s.Name, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("inspect table %q: %w", s.Name, err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect table %q: %w", s.Name, err)
	}
	if !slices.Equal(cols, s.AttributeNames()) {
		return fmt.Errorf("table %q has columns %v, relation declares %v", s.Name, cols, s.AttributeNames())
	}
	return nil
}

// Schemes returns the store's relations.
// inMemory reports whether path names an in-memory database, which only
// exists on the connection that opened it.
func inMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:") || strings.Contains(path, "mode=memory")
}

// readerDSN opens path for reads only. Readers use deferred transactions
// and so never wait on the write lock in WAL mode.
func readerDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_query_only=true&_busy_timeout=5000"
}

// sqliteDSN adds _txlock=immediate to path, keeping any query it has.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_txlock=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate"
}

func (s *SQLite) Schemes() []ir.Scheme {
	return slices.Clone(s.schemes)
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - writes that bypass the coordinator are not undoable.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	if s.rdb != nil && s.rdb != s.db {
		s.rdb.Close()
	}
	return s.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Query reads committed rows ordered by key. File databases read on a
// separate connection pool, so Query does not wait for an open write
// transaction; in-memory databases share the single write connection.
func (s *SQLite) Query(ctx context.Context, sel queryir.Select) ([]ir.IRObject, error) {
	return s.query(ctx, s.rdb, sel)
}

func (s *SQLite) query(ctx context.Context, q queryer, sel queryir.Select) ([]ir.IRObject, error) {
	query, params, cols, err := s.compiler.Select(sel)
	if err != nil {
		return nil, err
	}
	scheme := s.byName[sel.From]

	rows, err := q.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, mapError(fmt.Errorf("query %q: %w", sel.From, err))
	}
	defer rows.Close()

	types := make([]ir.AttrType, len(cols))
	for i, c := range cols {
		a, _ := scheme.Attribute(c)
		types[i] = a.Type
	}

	var out []ir.IRObject
	raw := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %q: %w", sel.From, err)
		}
		row := make(ir.IRObject, len(cols))
		for i, c := range cols {
			v, err := querysql.FromColumn(types[i], raw[i])
			if err != nil {
				return nil, fmt.Errorf("scan %q.%q: %w", sel.From, c, err)
			}
			row[c] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %q: %w", sel.From, err)
	}
	return out, nil
}

// Snapshot reads every relation inside one transaction so all relations
// come from the same committed state.
func (s *SQLite) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.rdb.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(fmt.Errorf("snapshot: %w", err))
	}
	defer tx.Rollback()

	rows := make(map[string][]ir.IRObject, len(s.schemes))
	for _, sc := range s.schemes {
		rel, err := s.query(ctx, tx, queryir.Select{From: sc.Name})
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		rows[sc.Name] = rel
	}
	return NewSnapshot(s.schemes, rows)
}

// Restore replaces every relation covered by the snapshot in one
// transaction: delete all rows, then insert the snapshot rows.
func (s *SQLite) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("restore: nil snapshot")
	}
	for _, sc := range snap.Schemes() {
		own, ok := s.byName[sc.Name]
		if !ok {
			return fmt.Errorf("restore: unknown relation %q", sc.Name)
		}
		if !sameScheme(own, sc) {
			return fmt.Errorf("restore: relation %q scheme differs from store", sc.Name)
		}
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	for _, name := range snap.Relations() {
		if _, err := tx.Mutate(ctx, queryir.Delete{Relation: name}); err != nil {
			tx.Rollback()
			return fmt.Errorf("restore %q: %w", name, err)
		}
		for _, row := range snap.Rows(name) {
			if _, err := tx.Mutate(ctx, queryir.Insert{Relation: name, Row: row}); err != nil {
				tx.Rollback()
				return fmt.Errorf("restore %q: %w", name, err)
			}
		}
	}
	return tx.Commit()
}

// Begin opens a write transaction.
func (s *SQLite) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(fmt.Errorf("begin: %w", err))
	}
	return &sqliteTx{store: s, tx: tx}, nil
}

type sqliteTx struct {
	store *SQLite
	tx    *sql.Tx
}

func (t *sqliteTx) Query(ctx context.Context, sel queryir.Select) ([]ir.IRObject, error) {
	return t.store.query(ctx, t.tx, sel)
}

func (t *sqliteTx) Mutate(ctx context.Context, m queryir.Mutation) (int64, error) {
	query, params, err := t.store.compiler.Mutation(m)
	if err != nil {
		return 0, rejectf("%v", err)
	}
	res, err := t.tx.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (t *sqliteTx) Commit() error {
	return mapError(t.tx.Commit())
}

func (t *sqliteTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// mapError translates driver errors into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", ErrRejected, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || err.Error() == "sql: database is closed" {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
