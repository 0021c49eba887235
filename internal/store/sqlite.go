package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// inChunk bounds the number of bound parameters in one IN (...) lookup.
const inChunk = 500

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore is a Store backed by SQLite. Each collection is a table keyed by
// chamado_id.
type SQLStore struct {
	db        *sql.DB
	source    string
	processed string
}

var _ Store = (*SQLStore)(nil)

// OpenSQLite opens the SQLite database at path with WAL enabled and
// creates the collection tables if needed.
func OpenSQLite(ctx context.Context, path string, cols Collections) (*SQLStore, error) {
	cols = cols.withDefaults()
	for _, name := range []string{cols.Source, cols.Processed} {
		if !tableNameRe.MatchString(name) {
			return nil, fmt.Errorf("invalid collection name %q", name)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	s := &SQLStore{db: db, source: cols.Source, processed: cols.Processed}
	if err := s.initSchema(ctx); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	chamado_id TEXT PRIMARY KEY,
	mensagem TEXT NOT NULL DEFAULT '',
	campos TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS %s (
	chamado_id TEXT PRIMARY KEY,
	mensagem_limpa TEXT NOT NULL DEFAULT '',
	descricao_dataset TEXT NOT NULL DEFAULT '',
	emocao TEXT NOT NULL DEFAULT '',
	categoria TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT ''
);`, s.source, s.processed)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Raw(ctx context.Context, id string) (RawRecord, bool, error) {
	query, args, err := sq.Select("chamado_id", "mensagem", "campos").
		From(s.source).
		Where(sq.Eq{"chamado_id": id}).
		ToSql()
	if err != nil {
		return RawRecord{}, false, fmt.Errorf("build raw query: %w", err)
	}

	var rec RawRecord
	var fields string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&rec.ID, &rec.Message, &fields)
	if errors.Is(err, sql.ErrNoRows) {
		return RawRecord{}, false, nil
	}
	if err != nil {
		return RawRecord{}, false, fmt.Errorf("query raw %s: %w", id, err)
	}
	if fields != "" && fields != "{}" {
		if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
			return RawRecord{}, false, fmt.Errorf("decode fields %s: %w", id, err)
		}
	}
	return rec, true, nil
}

func (s *SQLStore) PutRaw(ctx context.Context, rec RawRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("empty identifier")
	}
	fields := []byte("{}")
	if len(rec.Fields) > 0 {
		var err error
		if fields, err = json.Marshal(rec.Fields); err != nil {
			return fmt.Errorf("encode fields: %w", err)
		}
	}
	query, args, err := sq.Insert(s.source).
		Columns("chamado_id", "mensagem", "campos").
		Values(rec.ID, rec.Message, string(fields)).
		Suffix("ON CONFLICT(chamado_id) DO UPDATE SET mensagem = excluded.mensagem, campos = excluded.campos").
		ToSql()
	if err != nil {
		return fmt.Errorf("build raw upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert raw %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLStore) processedQuery() sq.SelectBuilder {
	return sq.Select("chamado_id", "mensagem_limpa", "descricao_dataset", "emocao", "categoria", "updated_at").
		From(s.processed)
}

func (s *SQLStore) Processed(ctx context.Context, id string) (ProcessedRecord, bool, error) {
	query, args, err := s.processedQuery().Where(sq.Eq{"chamado_id": id}).ToSql()
	if err != nil {
		return ProcessedRecord{}, false, fmt.Errorf("build processed query: %w", err)
	}
	rec, err := scanProcessed(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return ProcessedRecord{}, false, nil
	}
	if err != nil {
		return ProcessedRecord{}, false, fmt.Errorf("query processed %s: %w", id, err)
	}
	return rec, true, nil
}

func (s *SQLStore) ProcessedMany(ctx context.Context, ids []string) (map[string]ProcessedRecord, error) {
	out := make(map[string]ProcessedRecord, len(ids))
	for start := 0; start < len(ids); start += inChunk {
		end := min(start+inChunk, len(ids))
		query, args, err := s.processedQuery().Where(sq.Eq{"chamado_id": ids[start:end]}).ToSql()
		if err != nil {
			return nil, fmt.Errorf("build processed lookup: %w", err)
		}
		if err := s.collect(ctx, query, args, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) collect(ctx context.Context, query string, args []any, out map[string]ProcessedRecord) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query processed: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err is checked below

	for rows.Next() {
		rec, err := scanProcessed(rows)
		if err != nil {
			return fmt.Errorf("scan processed: %w", err)
		}
		out[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration: %w", err)
	}
	return nil
}

func (s *SQLStore) UpsertDescription(ctx context.Context, id, cleanMessage, description string) error {
	if id == "" {
		return fmt.Errorf("empty identifier")
	}
	query, args, err := sq.Insert(s.processed).
		Columns("chamado_id", "mensagem_limpa", "descricao_dataset", "updated_at").
		Values(id, cleanMessage, description, now().Format(time.RFC3339Nano)).
		Suffix(`ON CONFLICT(chamado_id) DO UPDATE SET
			mensagem_limpa = excluded.mensagem_limpa,
			descricao_dataset = excluded.descricao_dataset,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build processed upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert processed %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) SetClassification(ctx context.Context, id, emotion, category string) error {
	query, args, err := sq.Update(s.processed).
		Set("emocao", emotion).
		Set("categoria", category).
		Set("updated_at", now().Format(time.RFC3339Nano)).
		Where(sq.Eq{"chamado_id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build classification update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update classification %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcessed(row rowScanner) (ProcessedRecord, error) {
	var rec ProcessedRecord
	var updated string
	if err := row.Scan(&rec.ID, &rec.CleanMessage, &rec.Description, &rec.Emotion, &rec.Category, &updated); err != nil {
		return ProcessedRecord{}, err
	}
	if updated != "" {
		t, err := time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return ProcessedRecord{}, fmt.Errorf("parse updated_at: %w", err)
		}
		rec.UpdatedAt = t
	}
	return rec, nil
}
