// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ffmpeg"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"

	"go.mau.fi/cmdbot/bot"
	"go.mau.fi/cmdbot/config"
	"go.mau.fi/cmdbot/ha"
	"go.mau.fi/cmdbot/health"
	"go.mau.fi/cmdbot/respond"
	"go.mau.fi/cmdbot/session"
	"go.mau.fi/cmdbot/sticker"
)

const (
	shutdownTimeout = 30 * time.Second
	standbyDelay    = 2 * time.Second
)

type app struct {
	cfg    *config.Config
	flags  flags
	log    zerolog.Logger
	store  *session.Store
	device *store.Device
	qr     *session.QRState
	client atomic.Pointer[whatsmeow.Client]
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.envFile)
	if err != nil {
		return err
	}
	log, err := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	if cfg.FFmpegPath != "" {
		ffmpeg.SetPath(cfg.FFmpegPath)
	}
	if !ffmpeg.Supported() {
		log.Warn().Msg("ffmpeg not found, sticker conversion will fail")
	}

	st, err := session.OpenStore(ctx, cfg.DatabaseDialect, cfg.DatabaseURL, waLogger(log, "Store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}()
	device, err := st.Device(ctx)
	if err != nil {
		return err
	}

	a := &app{
		cfg:    cfg,
		flags:  f,
		log:    log,
		store:  st,
		device: device,
		qr:     &session.QRState{},
	}

	var election *ha.LeaderElection
	if cfg.HAEnabled {
		election = ha.NewLeaderElection(st.Pool, leaderLockID(cfg), waLogger(log, "Election"))
		defer func() {
			if err := election.Close(); err != nil && !errors.Is(err, ha.ErrLockNotHeld) {
				log.Warn().Err(err).Msg("Failed to release leadership")
			}
		}()
	}

	if cfg.HTTPAddr != "" {
		srv := a.healthServer(election)
		go func() {
			log.Info().Str("addr", cfg.HTTPAddr).Msg("Starting HTTP server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Err(err).Msg("HTTP server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if election != nil {
		supervisor := &ha.Supervisor{
			Election:      election,
			CheckInterval: ha.DefaultCheckInterval,
			StandbyDelay:  standbyDelay,
			Log:           waLogger(log, "HA"),
		}
		return supervisor.Run(ctx, a.runClient)
	}
	return a.runClient(ctx)
}

// leaderLockID returns the advisory lock key shared by all instances using the same store. It must
// not depend on the device, since the device changes when an instance pairs.
func leaderLockID(cfg *config.Config) int64 {
	return ha.GenerateLockID("cmdbot:" + cfg.HALockName)
}

func (a *app) healthServer(election *ha.LeaderElection) *http.Server {
	monitor := health.NewHealthMonitor(waLogger(a.log, "Health"))
	monitor.AddChecker(health.NewLivenessChecker(""))
	if a.store.Pool != nil {
		monitor.AddChecker(health.NewPoolChecker(a.store.Pool, ""))
	} else {
		monitor.AddChecker(health.NewSQLChecker(a.store.DB, ""))
	}
	monitor.AddChecker(health.NewClientChecker(func() health.ConnectionState {
		if client := a.client.Load(); client != nil {
			return client
		}
		return nil
	}, ""))
	if election != nil {
		monitor.AddChecker(health.NewLeadershipChecker(election, ""))
	}
	readiness := health.NewReadinessChecker("")
	readiness.AddCheck("logged_in", func() bool {
		client := a.client.Load()
		return client != nil && client.IsLoggedIn()
	})
	if election != nil {
		readiness.AddCheck("leader", election.IsLeader)
	}
	return &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           monitor.ServeMux(readiness, a.qr.Get),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *app) newBot(client *whatsmeow.Client) *bot.Bot {
	typist := respond.NewTypist(client, respond.NewImageSource(nil, a.cfg.ImageCacheTTL))
	typist.SubscribeDelay = a.cfg.SubscribeDelay
	typist.TypingDelay = a.cfg.TypingDelay
	stickers := sticker.NewConverter()
	stickers.MaxVideoDuration = a.cfg.MaxVideoDuration
	return bot.New(client, typist, stickers, a.cfg.Bot(), subLogger(a.log, "Bot"))
}

// runClient connects to WhatsApp (pairing first if necessary) and handles commands until ctx is
// done or the session ends.
func (a *app) runClient(ctx context.Context) error {
	client := whatsmeow.NewClient(a.device, waLogger(a.log, "Client"))
	a.client.Store(client)
	defer a.client.Store(nil)

	b := a.newBot(client)
	b.Self = func() []types.JID {
		var self []types.JID
		if client.Store.ID != nil {
			self = append(self, *client.Store.ID)
		}
		if !client.Store.LID.IsEmpty() {
			self = append(self, client.Store.LID)
		}
		return self
	}
	watcher := session.NewWatcher(client, subLogger(a.log, "Session"))
	client.AddEventHandler(watcher.HandleEvent)
	client.AddEventHandler(b.HandleEvent)

	var err error
	if client.Store.ID == nil {
		a.log.Info().Bool("pairing_code", a.flags.usePairingCode).Msg("Device is not paired, starting login")
		err = session.Login(ctx, client, session.LoginOptions{
			UsePairingCode: a.flags.usePairingCode,
			Phone:          a.flags.phone,
			Input:          os.Stdin,
			Output:         os.Stdout,
			QR:             a.qr,
		})
	} else {
		err = client.Connect()
	}
	if err != nil {
		client.Disconnect()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to start session: %w", err)
	}
	a.log.Info().
		Stringer("jid", client.Store.ID).
		Strs("commands", b.Commands()).
		Msg("Bot is running")

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Shutting down")
	case <-watcher.Done():
		err = watcher.Err()
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if closeErr := b.Shutdown(closeCtx, client.Disconnect); closeErr != nil {
		a.log.Warn().Err(closeErr).Msg("Command handlers didn't finish in time")
	}
	return err
}
