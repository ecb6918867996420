// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package respond sends bot replies with a simulated typing indicator.
package respond

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

const (
	DefaultSubscribeDelay = 500 * time.Millisecond
	DefaultTypingDelay    = 2 * time.Second
)

// Sender is the part of the WhatsApp client needed to send replies.
type Sender interface {
	SubscribePresence(ctx context.Context, jid types.JID) error
	SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

// Client is a Sender that can also upload media.
type Client interface {
	Sender
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
}

var _ Client = (*whatsmeow.Client)(nil)

// Typist sends messages after pretending to type them for a while.
type Typist struct {
	Client Client
	Images *ImageSource

	// SubscribeDelay is the pause between subscribing to the chat's presence and starting to type.
	SubscribeDelay time.Duration
	// TypingDelay is how long the composing indicator is shown before the message is sent.
	TypingDelay time.Duration
}

// NewTypist creates a Typist with the default delays.
func NewTypist(client Client, images *ImageSource) *Typist {
	return &Typist{
		Client:         client,
		Images:         images,
		SubscribeDelay: DefaultSubscribeDelay,
		TypingDelay:    DefaultTypingDelay,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendWithTyping subscribes to the chat's presence, shows the composing indicator, pauses it and
// finally sends the message. If quote is non-nil, the message is sent as a reply to it.
//
// Presence errors are only logged, as the message itself can still be delivered without them.
func (t *Typist) SendWithTyping(ctx context.Context, jid types.JID, msg *waE2E.Message, quote *Quote) (whatsmeow.SendResponse, error) {
	log := zerolog.Ctx(ctx).With().Stringer("chat_jid", jid).Logger()
	if err := t.Client.SubscribePresence(ctx, jid); err != nil {
		log.Warn().Err(err).Msg("Failed to subscribe to chat presence")
	}
	if err := sleep(ctx, t.SubscribeDelay); err != nil {
		return whatsmeow.SendResponse{}, err
	}
	if err := t.Client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText); err != nil {
		log.Warn().Err(err).Msg("Failed to send composing chat presence")
	}
	if err := sleep(ctx, t.TypingDelay); err != nil {
		return whatsmeow.SendResponse{}, err
	}
	if err := t.Client.SendChatPresence(ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText); err != nil {
		log.Warn().Err(err).Msg("Failed to send paused chat presence")
	}
	resp, err := t.Client.SendMessage(ctx, jid, quote.Attach(msg))
	if err != nil {
		return resp, fmt.Errorf("failed to send message: %w", err)
	}
	log.Debug().Str("message_id", resp.ID).Msg("Sent reply")
	return resp, nil
}

// SendText sends a text message with typing simulation.
func (t *Typist) SendText(ctx context.Context, jid types.JID, text string, quote *Quote) error {
	_, err := t.SendWithTyping(ctx, jid, &waE2E.Message{Conversation: proto.String(text)}, quote)
	return err
}

// SendImage fetches the image behind ref, uploads it and sends it with the given caption using
// typing simulation.
func (t *Typist) SendImage(ctx context.Context, jid types.JID, ref, caption string, quote *Quote) error {
	if t.Images == nil {
		return ErrNoImageSource
	}
	img, err := t.Images.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	uploaded, err := t.Client.Upload(ctx, img.Data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("failed to upload image: %w", err)
	}
	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
		Mimetype:      proto.String(img.Mimetype),
		Caption:       proto.String(caption),
		JPEGThumbnail: img.Thumbnail,
	}}
	if img.Width > 0 && img.Height > 0 {
		msg.ImageMessage.Width = proto.Uint32(uint32(img.Width))
		msg.ImageMessage.Height = proto.Uint32(uint32(img.Height))
	}
	_, err = t.SendWithTyping(ctx, jid, msg, quote)
	return err
}
