// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package ha

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"
)

func TestGenerateLockID(t *testing.T) {
	a := GenerateLockID("cmdbot:5511999999999@s.whatsapp.net")
	assert.Equal(t, a, GenerateLockID("cmdbot:5511999999999@s.whatsapp.net"))
	assert.NotEqual(t, a, GenerateLockID("cmdbot:5511888888888@s.whatsapp.net"))
	for _, id := range []string{"", "a", "b", "device", "another device"} {
		assert.GreaterOrEqual(t, GenerateLockID(id), int64(0))
	}
}

type fakeElection struct {
	mu       sync.Mutex
	leader   bool
	acquires int
	releases int
}

func (fe *fakeElection) Acquire(ctx context.Context) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.acquires++
	fe.leader = true
	return ctx.Err()
}

func (fe *fakeElection) IsLeader() bool {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.leader
}

func (fe *fakeElection) VerifyLeadership(context.Context) (bool, error) {
	return fe.IsLeader(), nil
}

func (fe *fakeElection) Release(context.Context) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.releases++
	if !fe.leader {
		return ErrLockNotHeld
	}
	fe.leader = false
	return nil
}

func (fe *fakeElection) lose() {
	fe.mu.Lock()
	fe.leader = false
	fe.mu.Unlock()
}

func newTestSupervisor(election Election) *Supervisor {
	return &Supervisor{
		Election:      election,
		CheckInterval: 10 * time.Millisecond,
		StandbyDelay:  time.Millisecond,
		Log:           waLog.Noop,
	}
}

func TestSupervisorReturnsLeaderError(t *testing.T) {
	election := &fakeElection{}
	errBoom := errors.New("boom")
	err := newTestSupervisor(election).Run(context.Background(), func(ctx context.Context) error {
		assert.True(t, election.IsLeader())
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, election.acquires)
	assert.Equal(t, 1, election.releases)
	assert.False(t, election.IsLeader())
}

func TestSupervisorRetriesAfterLosingLeadership(t *testing.T) {
	election := &fakeElection{}
	runs := 0
	err := newTestSupervisor(election).Run(context.Background(), func(ctx context.Context) error {
		runs++
		if runs == 1 {
			election.lose()
			<-ctx.Done()
			assert.ErrorIs(t, context.Cause(ctx), ErrLostLeadership)
			return ctx.Err()
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, runs)
	assert.Equal(t, 2, election.acquires)
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	election := &fakeElection{}
	ctx, cancel := context.WithCancel(context.Background())
	err := newTestSupervisor(election).Run(ctx, func(leaderCtx context.Context) error {
		cancel()
		<-leaderCtx.Done()
		return leaderCtx.Err()
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, election.releases)
}

func TestLeaderElectionPostgres(t *testing.T) {
	dbURL := os.Getenv("TEST_DB_URL")
	if dbURL == "" {
		t.Skip("TEST_DB_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	defer pool.Close()

	lockID := GenerateLockID("cmdbot-test:" + t.Name())
	first := NewLeaderElection(pool, lockID, waLog.Noop)
	second := NewLeaderElection(pool, lockID, waLog.Noop)
	defer first.Close()
	defer second.Close()

	acquired, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
	acquired, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)

	isLeader, err := first.VerifyLeadership(ctx)
	require.NoError(t, err)
	assert.True(t, isLeader)

	require.NoError(t, first.Release(ctx))
	assert.ErrorIs(t, first.Release(ctx), ErrLockNotHeld)
	acquired, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
}
