// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package ha makes sure only one bot instance is connected to a WhatsApp account at a time.
package ha

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var ErrLockNotHeld = errors.New("lock was not held")

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// LeaderElection implements leader election using PostgreSQL advisory locks.
//
// Advisory locks belong to a database session, so the lock is taken on a connection that is kept
// out of the pool for as long as leadership is held.
type LeaderElection struct {
	pool   *pgxpool.Pool
	lockID int64
	log    waLog.Logger

	mu       sync.RWMutex
	conn     *pgxpool.Conn
	isLeader bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewLeaderElection creates a new leader election instance. The lockID should be unique per
// WhatsApp account, see GenerateLockID.
func NewLeaderElection(pool *pgxpool.Pool, lockID int64, log waLog.Logger) *LeaderElection {
	ctx, cancel := context.WithCancel(context.Background())
	return &LeaderElection{
		pool:   pool,
		lockID: lockID,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// GenerateLockID generates a consistent non-negative lock ID from a string identifier.
func GenerateLockID(identifier string) int64 {
	hash := sha256.Sum256([]byte(identifier))
	lockID := int64(binary.BigEndian.Uint64(hash[:8]))
	if lockID < 0 {
		lockID = -lockID
	}
	return lockID
}

// LockID returns the advisory lock key.
func (le *LeaderElection) LockID() int64 {
	return le.lockID
}

// TryAcquire attempts to acquire leadership without blocking.
func (le *LeaderElection) TryAcquire(ctx context.Context) (bool, error) {
	le.mu.Lock()
	defer le.mu.Unlock()
	if le.isLeader {
		return true, nil
	}
	if le.conn == nil {
		conn, err := le.pool.Acquire(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to acquire database connection: %w", err)
		}
		le.conn = conn
	}
	var acquired bool
	err := le.conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", le.lockID).Scan(&acquired)
	if err != nil {
		le.dropConn()
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	le.isLeader = acquired
	if acquired {
		le.log.Infof("Acquired leadership (lock ID: %d)", le.lockID)
	} else {
		le.dropConn()
	}
	return acquired, nil
}

// dropConn returns the lock connection to the pool. Must be called with mu held.
func (le *LeaderElection) dropConn() {
	if le.conn != nil {
		le.conn.Release()
		le.conn = nil
	}
	le.isLeader = false
}

// Acquire blocks until leadership is acquired, retrying with exponential backoff.
func (le *LeaderElection) Acquire(ctx context.Context) error {
	backoff := minBackoff
	for {
		acquired, err := le.TryAcquire(ctx)
		if err != nil {
			return err
		} else if acquired {
			return nil
		}
		le.log.Debugf("Lock %d is held by another instance, retrying in %s", le.lockID, backoff)
		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		case <-ctx.Done():
			return ctx.Err()
		case <-le.ctx.Done():
			return le.ctx.Err()
		}
	}
}

// IsLeader returns the last known leadership state without querying the database.
func (le *LeaderElection) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

// VerifyLeadership checks that the lock connection still holds the advisory lock. A broken lock
// connection means leadership is lost.
func (le *LeaderElection) VerifyLeadership(ctx context.Context) (bool, error) {
	le.mu.Lock()
	defer le.mu.Unlock()
	if le.conn == nil {
		le.isLeader = false
		return false, nil
	}
	var isLocked bool
	err := le.conn.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM pg_locks
			WHERE locktype='advisory'
			AND classid=($1::bigint >> 32)::oid
			AND objid=($1::bigint & 4294967295)::oid
			AND objsubid=1
			AND pid=pg_backend_pid()
			AND granted
		)
	`, le.lockID).Scan(&isLocked)
	if err != nil {
		le.dropConn()
		return false, fmt.Errorf("failed to verify leadership: %w", err)
	}
	le.isLeader = isLocked
	if !isLocked {
		le.dropConn()
	}
	return isLocked, nil
}

// Release releases leadership and the advisory lock.
func (le *LeaderElection) Release(ctx context.Context) error {
	le.mu.Lock()
	defer le.mu.Unlock()
	if le.conn == nil {
		le.isLeader = false
		return ErrLockNotHeld
	}
	var released bool
	err := le.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", le.lockID).Scan(&released)
	le.dropConn()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	} else if !released {
		le.log.Warnf("Lock %d was not held when releasing", le.lockID)
		return ErrLockNotHeld
	}
	le.log.Infof("Released leadership (lock ID: %d)", le.lockID)
	return nil
}

// Close stops pending Acquire calls and releases leadership if it's held.
func (le *LeaderElection) Close() error {
	le.cancel()
	if le.IsLeader() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return le.Release(ctx)
	}
	return nil
}
