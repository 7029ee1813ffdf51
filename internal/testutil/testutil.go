//go:build integration

// Package testutil starts the containers integration tests run against.
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/testcontainers/testcontainers-go"
	mssqlmod "github.com/testcontainers/testcontainers-go/modules/mssql"
	redismod "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/example/partition-rotator/internal/rotatorcfg"
)

const saPassword = "Rotator!Passw0rd"

// RequireIT skips unless RUN_IT is set; the containers are heavy.
func RequireIT(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_IT") == "" {
		t.Skip("integration test; set RUN_IT=1 to run")
	}
}

// StartMSSQL launches SQL Server and returns the container and a DSN
// pointing at master.
func StartMSSQL(t *testing.T) (*mssqlmod.MSSQLServerContainer, string) {
	t.Helper()
	ctx := context.Background()
	c, err := mssqlmod.RunContainer(ctx,
		testcontainers.WithImage("mcr.microsoft.com/mssql/server:2022-latest"),
		mssqlmod.WithAcceptEULA(),
		mssqlmod.WithPassword(saPassword),
	)
	if err != nil { t.Fatalf("mssql up: %v", err) }
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	dsn, err := c.ConnectionString(ctx)
	if err != nil { t.Fatalf("mssql dsn: %v", err) }
	return c, dsn
}

// StartRedis launches a Redis container and returns its address.
func StartRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	r, err := redismod.RunContainer(ctx)
	if err != nil { t.Fatalf("redis up: %v", err) }
	t.Cleanup(func() { _ = r.Terminate(context.Background()) })
	host, err := r.Host(ctx)
	if err != nil { t.Fatalf("redis host: %v", err) }
	port, err := r.MappedPort(ctx, "6379")
	if err != nil { t.Fatalf("redis port: %v", err) }
	return fmt.Sprintf("%s:%s", host, port.Port())
}

// WaitMSSQLReady polls SELECT 1 until the server accepts logins.
func WaitMSSQLReady(t *testing.T, dsn string, deadline time.Duration) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		db, err := sqlx.Open("sqlserver", dsn)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			var one int
			e := db.QueryRowxContext(ctx, "SELECT 1").Scan(&one)
			cancel()
			_ = db.Close()
			if e == nil && one == 1 {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mssql not ready: %s", dsn)
}

// CreateLogTable creates a database with an unpartitioned log table whose
// clustered primary key follows the PK_<table>_Id convention, and returns a
// DSN for that database.
func CreateLogTable(t *testing.T, masterDSN string, p rotatorcfg.PartitionConfig) string {
	t.Helper()
	ctx := context.Background()
	db, err := sqlx.Open("sqlserver", masterDSN)
	if err != nil { t.Fatalf("open master: %v", err) }
	defer db.Close()
	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+p.DatabaseName); err != nil {
		t.Fatalf("create database: %v", err)
	}
	dsn := masterDSN + "&database=" + p.DatabaseName
	tdb, err := sqlx.Open("sqlserver", dsn)
	if err != nil { t.Fatalf("open %s: %v", p.DatabaseName, err) }
	defer tdb.Close()
	ddl := fmt.Sprintf(`CREATE TABLE %[1]s (
    %[2]s INT IDENTITY(1,1) NOT NULL,
    %[3]s DATETIME NOT NULL,
    Message NVARCHAR(400) NULL,
    CONSTRAINT PK_%[1]s_Id PRIMARY KEY CLUSTERED (%[2]s ASC)
)`, p.TableName, p.KeyColumn, p.PartitionColumn)
	if _, err := tdb.ExecContext(ctx, ddl); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return dsn
}

// PartitionConfig is a small window stored in the container's data directory.
func PartitionConfig() rotatorcfg.PartitionConfig {
	return rotatorcfg.PartitionConfig{
		DatabaseName:            "LogDb",
		TableName:               "Log",
		FilePrefix:              "LogFile",
		StoragePath:             "/var/opt/mssql/data",
		FunctionName:            "LogPartitionFunction",
		SchemeName:              "LogPartitionScheme",
		FileSizeMB:              5,
		FileMaxSizeMB:           20,
		FileGrowthMB:            5,
		RetentionDays:           5,
		TaskIntervalDays:        1,
		LookaheadPartitionCount: 2,
		KeyColumn:               "Id",
		PartitionColumn:         "CreateTime",
	}
}
