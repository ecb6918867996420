// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package bot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

const (
	StickerSentText = "✅ Figurinha enviada!"
)

type mediaMessage interface {
	whatsmeow.DownloadableMessage
	GetMimetype() string
}

// findMedia returns the image or video in the message itself, falling back to the media in the
// message it replies to.
func findMedia(msg *waE2E.Message) mediaMessage {
	if img := msg.GetImageMessage(); img != nil {
		return img
	} else if vid := msg.GetVideoMessage(); vid != nil {
		return vid
	}
	quoted := contextInfo(msg).GetQuotedMessage()
	if img := quoted.GetImageMessage(); img != nil {
		return img
	} else if vid := quoted.GetVideoMessage(); vid != nil {
		return vid
	}
	return nil
}

func (bot *Bot) handleSticker(ctx context.Context, evt *Event) error {
	media := findMedia(evt.Message.Message)
	if media == nil {
		return ErrNoMedia
	}
	log := zerolog.Ctx(ctx)
	data, err := bot.Client.Download(ctx, media)
	if err != nil {
		return fmt.Errorf("failed to download media: %w", err)
	}
	log.Debug().Int("size", len(data)).Str("mimetype", media.GetMimetype()).Msg("Downloaded sticker source")
	converted, err := bot.Stickers.Convert(ctx, data, media.GetMimetype())
	if err != nil {
		return fmt.Errorf("failed to convert sticker: %w", err)
	}
	uploaded, err := bot.Client.Upload(ctx, converted.Data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("failed to upload sticker: %w", err)
	}
	msg := &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
		Mimetype:      proto.String(converted.Mimetype),
		IsAnimated:    proto.Bool(converted.Animated),
		ContextInfo:   evt.Quote().ContextInfo(),
	}}
	if converted.Width > 0 && converted.Height > 0 {
		msg.StickerMessage.Width = proto.Uint32(uint32(converted.Width))
		msg.StickerMessage.Height = proto.Uint32(uint32(converted.Height))
	}
	resp, err := bot.Client.SendMessage(ctx, evt.Chat(), msg)
	if err != nil {
		return fmt.Errorf("failed to send sticker: %w", err)
	}
	log.Info().
		Str("sticker_id", resp.ID).
		Bool("animated", converted.Animated).
		Int("size", len(converted.Data)).
		Msg("Sent sticker")
	return bot.Typist.SendText(ctx, evt.Chat(), StickerSentText, evt.Quote())
}
