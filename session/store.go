// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package session opens the device store, pairs the device and watches the connection.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

var ErrUnknownDialect = errors.New("unknown database dialect")

// Store is an upgraded whatsmeow device store along with the database handles behind it.
type Store struct {
	Container *sqlstore.Container
	DB        *sql.DB
	// Pool is only set for postgres, where it's shared with leader election and health checks.
	Pool *pgxpool.Pool
}

// OpenStore connects to the database and runs the whatsmeow store upgrades.
func OpenStore(ctx context.Context, dialect, url string, log waLog.Logger) (*Store, error) {
	st := &Store{}
	switch dialect {
	case DialectSQLite:
		db, err := sql.Open("sqlite3", url)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// The sqlite driver doesn't handle concurrent writers on separate connections well.
		db.SetMaxOpenConns(1)
		st.DB = db
	case DialectPostgres:
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		st.Pool = pool
		st.DB = stdlib.OpenDBFromPool(pool)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDialect, dialect)
	}
	st.Container = sqlstore.NewWithDB(st.DB, dialect, log)
	if err := st.Container.Upgrade(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to upgrade device store: %w", err)
	}
	return st, nil
}

// Device returns the first device in the store, or a new unpaired device if there are none.
func (st *Store) Device(ctx context.Context) (*store.Device, error) {
	device, err := st.Container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

// Close closes the database handles.
func (st *Store) Close() error {
	err := st.DB.Close()
	if st.Pool != nil {
		st.Pool.Close()
	}
	return err
}
