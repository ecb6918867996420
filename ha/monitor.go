// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package ha

import (
	"context"
	"errors"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// DefaultCheckInterval is how often leadership is verified while leading.
const DefaultCheckInterval = 5 * time.Second

// Election is the part of LeaderElection used by the monitor and Supervisor.
type Election interface {
	Acquire(ctx context.Context) error
	IsLeader() bool
	VerifyLeadership(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

var _ Election = (*LeaderElection)(nil)

// LeadershipMonitor verifies leadership periodically and calls OnLoseLeader when it's gone.
type LeadershipMonitor struct {
	election      Election
	checkInterval time.Duration
	onLoseLeader  func()
	log           waLog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// MonitorConfig configures the leadership monitor.
type MonitorConfig struct {
	CheckInterval time.Duration
	OnLoseLeader  func()
}

// NewLeadershipMonitor creates a monitor that continuously checks leadership status.
func NewLeadershipMonitor(election Election, config MonitorConfig, log waLog.Logger) *LeadershipMonitor {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultCheckInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LeadershipMonitor{
		election:      election,
		checkInterval: config.CheckInterval,
		onLoseLeader:  config.OnLoseLeader,
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins monitoring leadership status.
func (lm *LeadershipMonitor) Start() {
	lm.wg.Add(1)
	go lm.monitorLoop()
}

func (lm *LeadershipMonitor) monitorLoop() {
	defer lm.wg.Done()
	ticker := time.NewTicker(lm.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(lm.ctx, lm.checkInterval)
			isLeader, err := lm.election.VerifyLeadership(ctx)
			cancel()
			if err != nil {
				lm.log.Errorf("Failed to verify leadership: %v", err)
			}
			if !isLeader {
				lm.log.Warnf("Lost leadership")
				if lm.onLoseLeader != nil {
					lm.onLoseLeader()
				}
				return
			}
		case <-lm.ctx.Done():
			return
		}
	}
}

// Stop stops monitoring and waits for the loop to exit.
func (lm *LeadershipMonitor) Stop() {
	lm.cancel()
	lm.wg.Wait()
}

// Supervisor runs a function only while holding leadership.
type Supervisor struct {
	Election      Election
	CheckInterval time.Duration
	// StandbyDelay is the pause before competing for leadership again after losing it.
	StandbyDelay time.Duration
	Log          waLog.Logger
}

// ErrLostLeadership is the cause of the context passed to the leader function when leadership is lost.
var ErrLostLeadership = errors.New("lost leadership")

// Run acquires leadership, then calls lead with a context that is cancelled if leadership is lost.
// When lead returns because leadership was lost, Run goes back to standby and tries again. Run
// returns when ctx is done or lead returns for any other reason.
func (s *Supervisor) Run(ctx context.Context, lead func(ctx context.Context) error) error {
	for {
		s.Log.Infof("Waiting for leadership")
		if err := s.Election.Acquire(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		leaderCtx, cancel := context.WithCancelCause(ctx)
		monitor := NewLeadershipMonitor(s.Election, MonitorConfig{
			CheckInterval: s.CheckInterval,
			OnLoseLeader:  func() { cancel(ErrLostLeadership) },
		}, s.Log)
		monitor.Start()
		err := lead(leaderCtx)
		lost := errors.Is(context.Cause(leaderCtx), ErrLostLeadership)
		monitor.Stop()
		cancel(nil)

		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if releaseErr := s.Election.Release(releaseCtx); releaseErr != nil && !errors.Is(releaseErr, ErrLockNotHeld) {
			s.Log.Warnf("Failed to release leadership: %v", releaseErr)
		}
		releaseCancel()

		switch {
		case ctx.Err() != nil:
			return nil
		case !lost:
			return err
		}
		s.Log.Infof("Entering standby mode")
		select {
		case <-time.After(s.StandbyDelay):
		case <-ctx.Done():
			return nil
		}
	}
}
