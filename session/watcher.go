// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

var (
	ErrLoggedOut      = errors.New("logged out from WhatsApp")
	ErrStreamReplaced = errors.New("another client connected with the same session")
)

// PresenceSender is implemented by *whatsmeow.Client.
type PresenceSender interface {
	SendPresence(ctx context.Context, state types.Presence) error
}

var _ PresenceSender = (*whatsmeow.Client)(nil)

// Watcher logs connection events and reports the ones that should end the session.
type Watcher struct {
	Client PresenceSender
	Log    zerolog.Logger

	once sync.Once
	done chan struct{}
	err  error
}

// NewWatcher creates a watcher. Pass its HandleEvent to the client's AddEventHandler.
func NewWatcher(client PresenceSender, log zerolog.Logger) *Watcher {
	return &Watcher{
		Client: client,
		Log:    log,
		done:   make(chan struct{}),
	}
}

func (w *Watcher) stop(err error) {
	w.once.Do(func() {
		w.err = err
		close(w.done)
	})
}

// Done is closed when the session can't continue, see Err.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Err returns why the session ended. It's only valid after Done is closed.
func (w *Watcher) Err() error {
	<-w.done
	return w.err
}

func (w *Watcher) HandleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		w.Log.Info().Msg("Connected to WhatsApp")
		// Sending available presence is what makes chat presence updates go through.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := w.Client.SendPresence(ctx, types.PresenceAvailable); err != nil {
				w.Log.Warn().Err(err).Msg("Failed to send available presence")
			}
		}()
	case *events.Disconnected:
		w.Log.Warn().Msg("Disconnected from WhatsApp")
	case *events.KeepAliveTimeout:
		w.Log.Warn().Int("error_count", evt.ErrorCount).Msg("Keepalive timeout")
	case *events.KeepAliveRestored:
		w.Log.Info().Msg("Keepalive restored")
	case *events.TemporaryBan:
		w.Log.Error().Stringer("ban", evt).Msg("Account is temporarily banned")
	case *events.ConnectFailure:
		w.Log.Error().Int("reason", int(evt.Reason)).Str("message", evt.Message).Msg("Failed to connect")
	case *events.StreamReplaced:
		w.Log.Error().Msg("Stream replaced by another client")
		w.stop(ErrStreamReplaced)
	case *events.LoggedOut:
		w.Log.Error().Bool("on_connect", evt.OnConnect).Int("reason", int(evt.Reason)).Msg("Logged out")
		w.stop(ErrLoggedOut)
	}
}
