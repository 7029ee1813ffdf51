package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/example/partition-rotator/internal/ddl"
	"github.com/example/partition-rotator/internal/partition"
	"github.com/example/partition-rotator/internal/rotatorcfg"
)

const (
	filegroupsQuery = `SELECT f.[name] AS [filegroup] FROM sys.filegroups f`
	filesQuery      = `SELECT df.[name] AS [name], df.physical_name AS [physical_name], f.[name] AS [filegroup]
FROM sys.database_files df JOIN sys.filegroups f ON df.data_space_id = f.data_space_id
ORDER BY f.[name], df.[name]`
)

// Store is the handle on the partitioned database. One per process; the
// caller closes it.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// FileInfo is one data file and the filegroup it belongs to.
type FileInfo struct {
	Name         string `db:"name"`
	PhysicalName string `db:"physical_name"`
	Filegroup    string `db:"filegroup"`
}

// PartitionStat is the row count and value range of one partition ordinal.
type PartitionStat struct {
	Partition int          `db:"partition"`
	Rows      int64        `db:"rows"`
	MinValue  sql.NullTime `db:"min_value"`
	MaxValue  sql.NullTime `db:"max_value"`
}

func NewStore(ctx context.Context, cfg rotatorcfg.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("mssql: dsn is empty")
	}
	db, err := sqlx.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.ConnMaxLifetimeMs > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMs) * time.Millisecond)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewFromDB(db, time.Duration(cfg.TimeoutMs)*time.Millisecond), nil
}

// NewFromDB wraps an open handle; used by tests and by callers that manage
// the pool themselves.
func NewFromDB(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Store{db: db, timeout: timeout}
}

func (s *Store) DB() *sqlx.DB { return s.db }

// Exec sends the whole batch in one round trip. The engine's batch semantics
// decide what survives a failure halfway through; errors come back as the
// driver reported them.
func (s *Store) Exec(ctx context.Context, batch ddl.Batch) error {
	if batch.Empty() {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.db.ExecContext(cctx, batch.Text())
	return err
}

func (s *Store) Filegroups(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, filegroupsQuery); err != nil {
		return nil, err
	}
	return names, nil
}

// Inventory reads the catalog and strips the table prefix from filegroup names.
func (s *Store) Inventory(ctx context.Context, naming partition.Naming) (partition.Inventory, error) {
	names, err := s.Filegroups(ctx)
	if err != nil {
		return nil, err
	}
	return naming.InventoryOf(names), nil
}

func (s *Store) Files(ctx context.Context) ([]FileInfo, error) {
	var out []FileInfo
	if err := s.db.SelectContext(ctx, &out, filesQuery); err != nil {
		return nil, err
	}
	return out, nil
}

// PartitionStats runs the query built by ddl.Builder.PartitionStatsQuery.
func (s *Store) PartitionStats(ctx context.Context, query string) ([]PartitionStat, error) {
	var out []PartitionStat
	if err := s.db.SelectContext(ctx, &out, query); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
