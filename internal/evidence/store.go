// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package evidence provides read-only clients for the external record
// store that holds serve-attempt evidence (image data and GPS
// coordinates). Two backends exist: a Postgres table accessed through
// pgx and a document-database REST API.
package evidence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("evidence record not found")

// Record is a single serve-attempt record. A nil field means the record
// has no value for it.
type Record struct {
	ID          string
	ImageData   *string
	Coordinates *string
}

// Store looks up a serve-attempt record by id.
type Store interface {
	Lookup(ctx context.Context, id string) (*Record, error)
}

// PGStore reads serve-attempt records from Postgres.
type PGStore struct {
	pool  *pgxpool.Pool
	query string
}

// PGConfig names the table and columns holding evidence.
type PGConfig struct {
	Table             string
	ImageColumn       string
	CoordinatesColumn string
}

// NewPGStore creates a store backed by the given Postgres pool.
func NewPGStore(pool *pgxpool.Pool, cfg PGConfig) *PGStore {
	return &PGStore{
		pool:  pool,
		query: buildLookupQuery(cfg),
	}
}

// buildLookupQuery renders the single-row lookup with sanitized identifiers.
func buildLookupQuery(cfg PGConfig) string {
	return fmt.Sprintf(`
		SELECT id::text, %s, %s
		FROM %s
		WHERE id::text = $1
	`,
		pgx.Identifier{cfg.ImageColumn}.Sanitize(),
		pgx.Identifier{cfg.CoordinatesColumn}.Sanitize(),
		pgx.Identifier{cfg.Table}.Sanitize(),
	)
}

// Lookup fetches a single record. Missing rows yield ErrNotFound.
func (s *PGStore) Lookup(ctx context.Context, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx, s.query, id)
	return scanRecord(row)
}

// Ping checks connectivity to Postgres.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// scanRecord scans a single row into a Record.
func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.ImageData, &r.Coordinates)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query evidence record: %w", err)
	}
	return &r, nil
}
