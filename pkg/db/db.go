/*
 * Copyright 2026 JustProSound.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justprosound/devreg/pkg/logger"
	"github.com/justprosound/devreg/pkg/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every Store
// method works identically inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is the Postgres-backed Service implementation.
type DB struct {
	pool   *pgxpool.Pool
	q      querier
	logger logger.Logger
}

// New connects to Postgres, ensures the schema, and returns the service.
func New(ctx context.Context, cfg *models.Database, log logger.Logger) (*DB, error) {
	pool, err := NewPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	database := &DB{pool: pool, logger: log}

	if err := database.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: schema setup failed: %w", err)
	}

	return database, nil
}

func (db *DB) conn() querier {
	if db.q != nil {
		return db.q
	}

	return db.pool
}

// InTx runs fn within a single transaction. The Store passed to fn shares
// the transaction, so a queue resolution and its registry mutation commit
// together or not at all.
func (db *DB) InTx(ctx context.Context, fn func(Store) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	txStore := &DB{pool: db.pool, q: tx, logger: db.logger}

	if err := fn(txStore); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("db: commit transaction: %w", err)
	}

	return nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	if db.pool != nil {
		db.pool.Close()
	}

	return nil
}

// translateError maps pgx errors onto the package sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.ConstraintName)
	}

	return err
}
