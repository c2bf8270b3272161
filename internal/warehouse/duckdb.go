package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/eventtide/pipeline/internal/config"
	"github.com/eventtide/pipeline/internal/daykey"
	"github.com/eventtide/pipeline/internal/errors"
)

// DB is the DuckDB-backed warehouse gateway.
type DB struct {
	db *sql.DB
}

// Open opens the warehouse and installs session state: memory limits and
// the object-storage credentials used by bulk loads. Explicit credentials
// from the config win; otherwise the ambient AWS credential chain is
// resolved and installed, mirroring how the bulk loader authenticates in
// production.
func Open(ctx context.Context, whCfg config.WarehouseConfig, awsCfg config.AWSConfig) (*DB, error) {
	db, err := sql.Open("duckdb", whCfg.DSN())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryQuery, errors.CodeConnectFailed,
			"opening warehouse", err)
	}

	// Jobs are single-threaded batch processes; one connection keeps
	// session-scoped settings (credentials, memory limit) authoritative.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrCategoryQuery, errors.CodeConnectFailed,
			"pinging warehouse", err)
	}

	d := &DB{db: db}
	if err := d.installSession(ctx, whCfg, awsCfg); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// OpenMemory opens an in-memory warehouse with no object-storage
// session state. Bulk loads can only read local paths. Used by tests
// and local experiments.
func OpenMemory(ctx context.Context) (*DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryQuery, errors.CodeConnectFailed,
			"opening in-memory warehouse", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrCategoryQuery, errors.CodeConnectFailed,
			"pinging in-memory warehouse", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) installSession(ctx context.Context, whCfg config.WarehouseConfig, awsCfg config.AWSConfig) error {
	if whCfg.MemoryLimit != "" {
		if err := d.Execute(ctx, setStatement("memory_limit", whCfg.MemoryLimit)); err != nil {
			return err
		}
	}

	for _, stmt := range []string{"INSTALL httpfs", "LOAD httpfs"} {
		if err := d.Execute(ctx, stmt); err != nil {
			return err
		}
	}

	keyID, secret, token := awsCfg.AccessKeyID, awsCfg.SecretAccessKey, ""
	if keyID == "" {
		// Fall back to the ambient provider chain (env, shared config,
		// instance role).
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(awsCfg.Region))
		if err != nil {
			return errors.Wrap(errors.ErrCategoryQuery, errors.CodeConnectFailed,
				"resolving ambient AWS credentials", err)
		}
		creds, err := cfg.Credentials.Retrieve(ctx)
		if err != nil {
			return errors.Wrap(errors.ErrCategoryQuery, errors.CodeConnectFailed,
				"retrieving ambient AWS credentials", err)
		}
		keyID, secret, token = creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken
	}

	settings := map[string]string{
		"s3_region":            awsCfg.Region,
		"s3_access_key_id":     keyID,
		"s3_secret_access_key": secret,
		"s3_session_token":     token,
	}
	for name, value := range settings {
		if value == "" {
			continue
		}
		if err := d.Execute(ctx, setStatement(name, value)); err != nil {
			return err
		}
	}
	return nil
}

// setStatement renders a session SET for a closed, config-sourced
// setting. SET does not accept bind parameters, so the value is inlined
// with single quotes escaped.
func setStatement(name, value string) string {
	return fmt.Sprintf("SET %s = '%s'", name, strings.ReplaceAll(value, "'", "''"))
}

// Close closes the warehouse connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Execute runs a statement with no return value.
func (d *DB) Execute(ctx context.Context, stmt string, args ...any) error {
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.NewQueryError(summarize(stmt), err)
	}
	return nil
}

// ScalarDay runs a query expected to return at most one day value.
func (d *DB) ScalarDay(ctx context.Context, query string, args ...any) (string, bool, error) {
	return scalarDay(ctx, d.db, query, args...)
}

// ScalarTime runs a query expected to return at most one timestamp.
func (d *DB) ScalarTime(ctx context.Context, query string, args ...any) (time.Time, bool, error) {
	return scalarTime(ctx, d.db, query, args...)
}

// Exists reports whether the query returns at least one row.
func (d *DB) Exists(ctx context.Context, query string, args ...any) (bool, error) {
	return exists(ctx, d.db, query, args...)
}

// BulkLoadCSV loads a CSV object into the named table. COPY targets
// cannot be parameterized, so the table and columns come from the
// engine's closed naming scheme and the URI is quote-escaped.
func (d *DB) BulkLoadCSV(ctx context.Context, table string, columns []string, uri string) error {
	stmt := fmt.Sprintf("COPY %s (%s) FROM '%s' (FORMAT CSV, HEADER FALSE)",
		table, strings.Join(columns, ", "), strings.ReplaceAll(uri, "'", "''"))
	return d.Execute(ctx, stmt)
}

// InTransaction runs body inside one transaction.
func (d *DB) InTransaction(ctx context.Context, body func(tx Gateway) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCategoryQuery, errors.CodeTransactionFailed,
			"beginning transaction", err)
	}

	if err := body(&txGateway{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Wrap(errors.ErrCategoryQuery, errors.CodeTransactionFailed,
				fmt.Sprintf("rollback failed after %v", err), rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCategoryQuery, errors.CodeTransactionFailed,
			"committing transaction", err)
	}
	return nil
}

// Compact reclaims storage after a commit. The warehouse checkpoints the
// whole database; the table name is accepted for parity with engines
// that reclaim per table.
func (d *DB) Compact(ctx context.Context, table string) error {
	if _, err := d.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return errors.NewCompactionFailure("checkpointing "+table, err)
	}
	return nil
}

// txGateway is the Gateway view of one open transaction.
type txGateway struct {
	tx *sql.Tx
}

func (t *txGateway) Execute(ctx context.Context, stmt string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, stmt, args...); err != nil {
		return errors.NewQueryError(summarize(stmt), err)
	}
	return nil
}

func (t *txGateway) ScalarDay(ctx context.Context, query string, args ...any) (string, bool, error) {
	return scalarDay(ctx, t.tx, query, args...)
}

func (t *txGateway) ScalarTime(ctx context.Context, query string, args ...any) (time.Time, bool, error) {
	return scalarTime(ctx, t.tx, query, args...)
}

func (t *txGateway) Exists(ctx context.Context, query string, args ...any) (bool, error) {
	return exists(ctx, t.tx, query, args...)
}

func (t *txGateway) BulkLoadCSV(ctx context.Context, table string, columns []string, uri string) error {
	stmt := fmt.Sprintf("COPY %s (%s) FROM '%s' (FORMAT CSV, HEADER FALSE)",
		table, strings.Join(columns, ", "), strings.ReplaceAll(uri, "'", "''"))
	return t.Execute(ctx, stmt)
}

func (t *txGateway) InTransaction(ctx context.Context, body func(tx Gateway) error) error {
	return errors.Wrap(errors.ErrCategoryQuery, errors.CodeTransactionFailed,
		"nested transactions are not supported", nil)
}

func (t *txGateway) Compact(ctx context.Context, table string) error {
	return errors.NewCompactionFailure("compaction is not permitted inside a transaction", nil)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scalarDay(ctx context.Context, q querier, query string, args ...any) (string, bool, error) {
	v, ok, err := scalar(ctx, q, query, args...)
	if err != nil || !ok {
		return "", false, err
	}
	switch d := v.(type) {
	case time.Time:
		return daykey.Format(d), true, nil
	case string:
		return d, true, nil
	default:
		return "", false, errors.NewInternalError(
			fmt.Sprintf("unexpected scalar day type %T", v), nil)
	}
}

func scalarTime(ctx context.Context, q querier, query string, args ...any) (time.Time, bool, error) {
	v, ok, err := scalar(ctx, q, query, args...)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, isTime := v.(time.Time)
	if !isTime {
		return time.Time{}, false, errors.NewInternalError(
			fmt.Sprintf("unexpected scalar time type %T", v), nil)
	}
	return t, true, nil
}

func exists(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return false, errors.NewQueryError(summarize(query), err)
	}
	defer rows.Close()
	if rows.Next() {
		return true, nil
	}
	return false, rows.Err()
}

func scalar(ctx context.Context, q querier, query string, args ...any) (any, bool, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, errors.NewQueryError(summarize(query), err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	var v any
	if err := rows.Scan(&v); err != nil {
		return nil, false, errors.NewQueryError(summarize(query), err)
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// summarize trims a statement to its first line for error messages.
func summarize(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		stmt = stmt[:i] + " ..."
	}
	if len(stmt) > 120 {
		stmt = stmt[:120] + " ..."
	}
	return stmt
}
