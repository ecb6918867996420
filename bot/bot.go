// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package bot maps parsed chat commands to their side effects.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"go.mau.fi/cmdbot/command"
	"go.mau.fi/cmdbot/respond"
	"go.mau.fi/cmdbot/sticker"
)

const (
	DefaultMenuImage      = "https://i.ibb.co/MDdvjFVh/109054.jpg"
	DefaultGroupImage     = "https://i.ibb.co/BHHmyS46/EEWC-o2-MDVg-MEz7jm8-Fbn-3343437531.webp"
	DefaultHelpImage      = "https://i.ibb.co/c7Y4bn1/9780b13155bf33e2ab441389a38545ac.jpg"
	DefaultCommandTimeout = 2 * time.Minute
)

// Config controls which images the menus use and how incoming messages are filtered.
type Config struct {
	MenuImage  string
	GroupImage string
	HelpImage  string

	// RequireAdmin restricts group administration commands to group admins.
	RequireAdmin bool
	// SkipBacklog ignores messages sent before the bot was started.
	SkipBacklog bool
	// CommandTimeout bounds the time spent handling a single message.
	CommandTimeout time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		MenuImage:      DefaultMenuImage,
		GroupImage:     DefaultGroupImage,
		HelpImage:      DefaultHelpImage,
		RequireAdmin:   true,
		SkipBacklog:    true,
		CommandTimeout: DefaultCommandTimeout,
	}
}

// Event is an incoming message that contained a command.
type Event struct {
	*events.Message
	Command   command.Command
	RequestID string
}

// Chat returns the chat the command was sent in.
func (evt *Event) Chat() types.JID {
	return evt.Info.Chat
}

// Quote returns a reference to the command message for replies.
func (evt *Event) Quote() *respond.Quote {
	return respond.QuoteOf(evt.Message)
}

// Handler executes a single command.
type Handler func(ctx context.Context, evt *Event) error

// Bot receives whatsmeow events and dispatches the commands in them.
type Bot struct {
	Client   Client
	Typist   *respond.Typist
	Stickers *sticker.Converter
	Config   Config
	Log      zerolog.Logger
	// Self returns the JIDs of the logged-in account, which commands must never act on.
	Self func() []types.JID

	handlers  map[string]Handler
	startTime time.Time
	wg        sync.WaitGroup
}

// New creates a bot with all the built-in commands registered.
func New(client Client, typist *respond.Typist, stickers *sticker.Converter, cfg Config, log zerolog.Logger) *Bot {
	if typist == nil {
		typist = respond.NewTypist(client, respond.NewImageSource(nil, respond.DefaultImageCacheTTL))
	}
	if stickers == nil {
		stickers = sticker.NewConverter()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	bot := &Bot{
		Client:   client,
		Typist:   typist,
		Stickers: stickers,
		Config:   cfg,
		Log:      log,
		handlers: make(map[string]Handler),
		// Message timestamps only have second precision.
		startTime: time.Now().Truncate(time.Second),
	}
	bot.registerMenus()
	bot.registerGroupCommands()
	bot.Register(bot.handleSticker, "sticker", "s")
	return bot
}

// Register maps the given command names to a handler, replacing any previous handler.
func (bot *Bot) Register(handler Handler, names ...string) {
	for _, name := range names {
		bot.handlers[name] = handler
	}
}

// Commands returns the names of all registered commands.
func (bot *Bot) Commands() []string {
	names := make([]string, 0, len(bot.handlers))
	for name := range bot.handlers {
		names = append(names, name)
	}
	return names
}

// HandleEvent is the event handler to pass to whatsmeow's AddEventHandler. Each message is handled
// in its own goroutine so that typing delays don't block the event loop.
func (bot *Bot) HandleEvent(rawEvt any) {
	evt, ok := rawEvt.(*events.Message)
	if !ok {
		return
	}
	if bot.Config.SkipBacklog && evt.Info.Timestamp.Before(bot.startTime) {
		bot.Log.Debug().
			Str("message_id", evt.Info.ID).
			Time("timestamp", evt.Info.Timestamp).
			Msg("Skipping message sent before startup")
		return
	}
	bot.wg.Add(1)
	go func() {
		defer bot.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), bot.Config.CommandTimeout)
		defer cancel()
		_ = bot.Dispatch(ctx, evt)
	}()
}

// Dispatch parses the command in the message and runs its handler. Errors are logged here and
// also returned for callers that run it synchronously.
func (bot *Bot) Dispatch(ctx context.Context, msg *events.Message) error {
	cmd, ok := command.Parse(command.ExtractText(msg.Message))
	if !ok {
		return nil
	}
	evt := &Event{Message: msg, Command: cmd, RequestID: uuid.NewString()}
	log := bot.Log.With().
		Str("request_id", evt.RequestID).
		Str("command", cmd.Name).
		Stringer("chat_jid", msg.Info.Chat).
		Stringer("sender", msg.Info.Sender).
		Str("message_id", msg.Info.ID).
		Logger()
	ctx = log.WithContext(ctx)

	handler, ok := bot.handlers[cmd.Name]
	if !ok {
		log.Debug().Msg("Ignoring unknown command")
		return nil
	}
	log.Info().Strs("args", cmd.Args).Msg("Handling command")
	start := time.Now()
	err := bot.runHandler(ctx, handler, evt)
	if err != nil {
		if reply, isUserError := userErrorReply(err); isUserError {
			log.Warn().Err(err).Msg("Command rejected")
			if replyErr := bot.Typist.SendText(ctx, evt.Chat(), reply, evt.Quote()); replyErr != nil {
				log.Err(replyErr).Msg("Failed to send error reply")
			}
		} else {
			log.Err(err).Msg("Failed to handle command")
		}
		return err
	}
	log.Debug().Dur("duration", time.Since(start)).Msg("Handled command")
	return nil
}

func (bot *Bot) runHandler(ctx context.Context, handler Handler, evt *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in command handler: %v", r)
		}
	}()
	return handler(ctx, evt)
}

// Close waits for in-flight handlers to finish or ctx to be done.
func (bot *Bot) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		bot.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("timed out waiting for command handlers"), ctx.Err())
	}
}

// Shutdown waits for in-flight handlers like Close and then calls disconnect, so that replies still
// in their typing delay are delivered. disconnect is called even if waiting times out.
func (bot *Bot) Shutdown(ctx context.Context, disconnect func()) error {
	err := bot.Close(ctx)
	disconnect()
	return err
}
