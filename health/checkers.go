// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SlowQueryThreshold is the database latency above which the database is reported as degraded.
const SlowQueryThreshold = 100 * time.Millisecond

// DatabaseChecker checks database connectivity.
type DatabaseChecker struct {
	name  string
	ping  func(ctx context.Context) error
	stats func() map[string]any
}

// NewPoolChecker creates a database health checker for a pgx pool.
func NewPoolChecker(pool *pgxpool.Pool, name string) *DatabaseChecker {
	return &DatabaseChecker{
		name: defaultName(name, "database"),
		ping: func(ctx context.Context) error {
			var result int
			return pool.QueryRow(ctx, "SELECT 1").Scan(&result)
		},
		stats: func() map[string]any {
			stat := pool.Stat()
			return map[string]any{
				"acquired": stat.AcquiredConns(),
				"idle":     stat.IdleConns(),
				"max":      stat.MaxConns(),
			}
		},
	}
}

// NewSQLChecker creates a database health checker for a database/sql handle.
func NewSQLChecker(db *sql.DB, name string) *DatabaseChecker {
	return &DatabaseChecker{
		name: defaultName(name, "database"),
		ping: db.PingContext,
		stats: func() map[string]any {
			stat := db.Stats()
			return map[string]any{
				"in_use": stat.InUse,
				"idle":   stat.Idle,
				"max":    stat.MaxOpenConnections,
			}
		},
	}
}

func defaultName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

func (dc *DatabaseChecker) Name() string {
	return dc.name
}

func (dc *DatabaseChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := dc.ping(ctx)
	latency := time.Since(start)
	if err != nil {
		return ComponentHealth{
			Status:    StatusUnhealthy,
			Message:   fmt.Sprintf("database query failed: %v", err),
			Timestamp: time.Now(),
			Details: map[string]any{
				"error":   err.Error(),
				"latency": latency.String(),
			},
		}
	}

	status := StatusHealthy
	if latency > SlowQueryThreshold {
		status = StatusDegraded
	}
	details := dc.stats()
	details["latency"] = latency.String()
	return ComponentHealth{
		Status:    status,
		Timestamp: time.Now(),
		Details:   details,
	}
}

// ConnectionState is implemented by *whatsmeow.Client.
type ConnectionState interface {
	IsConnected() bool
	IsLoggedIn() bool
}

// ClientChecker checks WhatsApp client connectivity.
type ClientChecker struct {
	client func() ConnectionState
	name   string
}

// NewClientChecker creates a WhatsApp client health checker. The getter is called on every check,
// as the client may not exist yet (for example while waiting for leadership).
func NewClientChecker(client func() ConnectionState, name string) *ClientChecker {
	return &ClientChecker{
		client: client,
		name:   defaultName(name, "whatsapp"),
	}
}

func (cc *ClientChecker) Name() string {
	return cc.name
}

func (cc *ClientChecker) Check(ctx context.Context) ComponentHealth {
	var client ConnectionState
	if cc.client != nil {
		client = cc.client()
	}
	if client == nil {
		return ComponentHealth{
			Status:    StatusUnhealthy,
			Message:   "client is not running",
			Timestamp: time.Now(),
		}
	}

	isConnected := client.IsConnected()
	isLoggedIn := client.IsLoggedIn()
	details := map[string]any{
		"connected": isConnected,
		"logged_in": isLoggedIn,
	}
	switch {
	case !isConnected:
		return ComponentHealth{
			Status:    StatusUnhealthy,
			Message:   "not connected to WhatsApp",
			Timestamp: time.Now(),
			Details:   details,
		}
	case !isLoggedIn:
		return ComponentHealth{
			Status:    StatusDegraded,
			Message:   "connected but not logged in",
			Timestamp: time.Now(),
			Details:   details,
		}
	default:
		return ComponentHealth{
			Status:    StatusHealthy,
			Timestamp: time.Now(),
			Details:   details,
		}
	}
}

// LeadershipVerifier is implemented by *ha.LeaderElection.
type LeadershipVerifier interface {
	VerifyLeadership(ctx context.Context) (bool, error)
}

// LeadershipChecker checks leadership status.
type LeadershipChecker struct {
	election LeadershipVerifier
	name     string
}

// NewLeadershipChecker creates a leadership health checker. A nil election means HA is disabled.
func NewLeadershipChecker(election LeadershipVerifier, name string) *LeadershipChecker {
	return &LeadershipChecker{
		election: election,
		name:     defaultName(name, "leadership"),
	}
}

func (lc *LeadershipChecker) Name() string {
	return lc.name
}

func (lc *LeadershipChecker) Check(ctx context.Context) ComponentHealth {
	if lc.election == nil {
		return ComponentHealth{
			Status:    StatusHealthy,
			Message:   "leadership not enabled",
			Timestamp: time.Now(),
		}
	}

	isLeader, err := lc.election.VerifyLeadership(ctx)
	if err != nil {
		return ComponentHealth{
			Status:    StatusDegraded,
			Message:   fmt.Sprintf("failed to verify leadership: %v", err),
			Timestamp: time.Now(),
			Details: map[string]any{
				"error": err.Error(),
			},
		}
	}

	return ComponentHealth{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Details: map[string]any{
			"is_leader": isLeader,
		},
	}
}

// ReadinessChecker checks if the application is ready to serve traffic.
type ReadinessChecker struct {
	checks map[string]func() bool
	order  []string
	name   string
}

// NewReadinessChecker creates a readiness checker.
func NewReadinessChecker(name string) *ReadinessChecker {
	return &ReadinessChecker{
		checks: make(map[string]func() bool),
		name:   defaultName(name, "readiness"),
	}
}

// AddCheck adds a named readiness check function. It must be called before the checker is in use.
func (rc *ReadinessChecker) AddCheck(name string, check func() bool) {
	if _, exists := rc.checks[name]; !exists {
		rc.order = append(rc.order, name)
	}
	rc.checks[name] = check
}

func (rc *ReadinessChecker) Name() string {
	return rc.name
}

func (rc *ReadinessChecker) Check(ctx context.Context) ComponentHealth {
	for _, name := range rc.order {
		if !rc.checks[name]() {
			return ComponentHealth{
				Status:    StatusUnhealthy,
				Message:   fmt.Sprintf("readiness check %s failed", name),
				Timestamp: time.Now(),
			}
		}
	}
	return ComponentHealth{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
}

// LivenessChecker always reports healthy while the process is able to serve HTTP.
type LivenessChecker struct {
	name string
}

// NewLivenessChecker creates a liveness checker.
func NewLivenessChecker(name string) *LivenessChecker {
	return &LivenessChecker{name: defaultName(name, "liveness")}
}

func (lc *LivenessChecker) Name() string {
	return lc.name
}

func (lc *LivenessChecker) Check(ctx context.Context) ComponentHealth {
	return ComponentHealth{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
}
