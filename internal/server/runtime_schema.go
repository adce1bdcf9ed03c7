package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"keyi/apps/backend/internal/db"
)

// runtimeColumns are the columns added after the first schema revision; a
// database missing them was created by an older build.
var runtimeColumns = []struct {
	table  string
	column string
}{
	{table: "users", column: "preferences"},
	{table: "users", column: "risk_level"},
	{table: "chat_sessions", column: "emotion_summary"},
	{table: "chat_sessions", column: "risk_flag"},
	{table: "messages", column: "emotion"},
	{table: "messages", column: "risk_level"},
	{table: "alerts", column: "resources_provided"},
}

func ValidateRuntimeSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	for _, table := range db.RequiredTables() {
		ok, err := tableExists(ctx, pool, table)
		if err != nil {
			return fmt.Errorf("failed checking schema for table %s: %w", table, err)
		}
		if !ok {
			return fmt.Errorf("required table %s is missing; start with AUTO_MIGRATE=true or apply internal/db/schema.sql", table)
		}
	}

	for _, item := range runtimeColumns {
		ok, err := columnExists(ctx, pool, item.table, item.column)
		if err != nil {
			return fmt.Errorf(
				"failed checking schema for %s.%s: %w",
				item.table,
				item.column,
				err,
			)
		}
		if !ok {
			return fmt.Errorf(
				"required column %s.%s is missing; start with AUTO_MIGRATE=true or apply internal/db/schema.sql",
				item.table,
				item.column,
			)
		}
	}

	return nil
}

func tableExists(ctx context.Context, pool *pgxpool.Pool, tableName string) (bool, error) {
	table := strings.TrimSpace(tableName)
	if table == "" {
		return false, fmt.Errorf("table must not be empty")
	}
	var exists bool
	err := pool.QueryRow(
		ctx,
		`SELECT EXISTS (
		   SELECT 1
		   FROM information_schema.tables
		   WHERE table_schema = current_schema()
		     AND lower(table_name) = lower($1)
		 )`,
		table,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func columnExists(ctx context.Context, pool *pgxpool.Pool, tableName, columnName string) (bool, error) {
	table := strings.TrimSpace(tableName)
	column := strings.TrimSpace(columnName)
	if table == "" || column == "" {
		return false, fmt.Errorf("table/column must not be empty")
	}
	var exists bool
	err := pool.QueryRow(
		ctx,
		`SELECT EXISTS (
		   SELECT 1
		   FROM information_schema.columns
		   WHERE table_schema = current_schema()
		     AND lower(table_name) = lower($1)
		     AND lower(column_name) = lower($2)
		 )`,
		table,
		column,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
