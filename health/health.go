// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package health reports whether the bot and the things it depends on are working.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultCheckTimeout bounds a single HTTP triggered health check.
const DefaultCheckTimeout = 5 * time.Second

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthReport represents the overall health status.
type HealthReport struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// Checker defines the interface for health checkers.
type Checker interface {
	Check(ctx context.Context) ComponentHealth
	Name() string
}

// HealthMonitor monitors the health of various components.
type HealthMonitor struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	log       waLog.Logger
	startTime time.Time
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(log waLog.Logger) *HealthMonitor {
	if log == nil {
		log = waLog.Noop
	}
	return &HealthMonitor{
		checkers:  make(map[string]Checker),
		log:       log,
		startTime: time.Now(),
	}
}

// AddChecker adds a health checker, replacing any checker with the same name.
func (hm *HealthMonitor) AddChecker(checker Checker) {
	hm.mu.Lock()
	hm.checkers[checker.Name()] = checker
	hm.mu.Unlock()
}

// Names returns the names of the registered checkers in sorted order.
func (hm *HealthMonitor) Names() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs all registered checkers concurrently. The overall status is the worst component status.
func (hm *HealthMonitor) Check(ctx context.Context) HealthReport {
	hm.mu.RLock()
	checkers := make([]Checker, 0, len(hm.checkers))
	for _, checker := range hm.checkers {
		checkers = append(checkers, checker)
	}
	hm.mu.RUnlock()

	var wg sync.WaitGroup
	var resultsLock sync.Mutex
	components := make(map[string]ComponentHealth, len(checkers))
	for _, checker := range checkers {
		wg.Add(1)
		go func(checker Checker) {
			defer wg.Done()
			result := checker.Check(ctx)
			resultsLock.Lock()
			components[checker.Name()] = result
			resultsLock.Unlock()
		}(checker)
	}
	wg.Wait()

	overallStatus := StatusHealthy
	for name, component := range components {
		switch component.Status {
		case StatusUnhealthy:
			overallStatus = StatusUnhealthy
			hm.log.Warnf("Health check %s is unhealthy: %s", name, component.Message)
		case StatusDegraded:
			if overallStatus == StatusHealthy {
				overallStatus = StatusDegraded
			}
			hm.log.Debugf("Health check %s is degraded: %s", name, component.Message)
		}
	}

	return HealthReport{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Uptime:     time.Since(hm.startTime).Round(time.Second).String(),
		Components: components,
	}
}

func (hm *HealthMonitor) writeReport(w http.ResponseWriter, report HealthReport) {
	w.Header().Set("Content-Type", "application/json")
	// Degraded components still accept traffic
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		hm.log.Warnf("Failed to write health report: %v", err)
	}
}

// HTTPHandler returns an HTTP handler that runs all checks.
func (hm *HealthMonitor) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), DefaultCheckTimeout)
		defer cancel()
		hm.writeReport(w, hm.Check(ctx))
	}
}

// ReadyHandler returns an HTTP handler that only runs the given checker, for readiness probes.
func (hm *HealthMonitor) ReadyHandler(readiness Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), DefaultCheckTimeout)
		defer cancel()
		result := readiness.Check(ctx)
		hm.writeReport(w, HealthReport{
			Status:     result.Status,
			Timestamp:  time.Now(),
			Uptime:     time.Since(hm.startTime).Round(time.Second).String(),
			Components: map[string]ComponentHealth{readiness.Name(): result},
		})
	}
}

// ServeMux returns a mux serving /health, /ready and, if qrCode is set, /qr.png.
func (hm *HealthMonitor) ServeMux(readiness Checker, qrCode func() string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", hm.HTTPHandler())
	mux.HandleFunc("GET /ready", hm.ReadyHandler(readiness))
	if qrCode != nil {
		mux.HandleFunc("GET /qr.png", QRHandler(qrCode, hm.log))
	}
	return mux
}
