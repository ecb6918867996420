// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package respond

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// Quote identifies an incoming message that a reply refers to.
type Quote struct {
	ID      types.MessageID
	Sender  types.JID
	Message *waE2E.Message
}

// QuoteOf returns a Quote referring to the given incoming message.
func QuoteOf(evt *events.Message) *Quote {
	if evt == nil {
		return nil
	}
	return &Quote{
		ID:      evt.Info.ID,
		Sender:  evt.Info.Sender,
		Message: evt.Message,
	}
}

// ContextInfo returns the context info that marks a message as a reply to the quoted one.
func (q *Quote) ContextInfo() *waE2E.ContextInfo {
	if q == nil {
		return nil
	}
	return &waE2E.ContextInfo{
		StanzaID:      proto.String(q.ID),
		Participant:   proto.String(q.Sender.ToNonAD().String()),
		QuotedMessage: q.Message,
	}
}

// Attach sets the quote as the context of msg. Plain conversation messages are turned into extended
// text messages, as they can't carry context info. A nil quote returns msg unchanged.
func (q *Quote) Attach(msg *waE2E.Message) *waE2E.Message {
	if q == nil || msg == nil {
		return msg
	}
	ci := q.ContextInfo()
	switch {
	case msg.Conversation != nil:
		msg.ExtendedTextMessage = &waE2E.ExtendedTextMessage{
			Text:        msg.Conversation,
			ContextInfo: ci,
		}
		msg.Conversation = nil
	case msg.ExtendedTextMessage != nil:
		msg.ExtendedTextMessage.ContextInfo = ci
	case msg.ImageMessage != nil:
		msg.ImageMessage.ContextInfo = ci
	case msg.VideoMessage != nil:
		msg.VideoMessage.ContextInfo = ci
	case msg.StickerMessage != nil:
		msg.StickerMessage.ContextInfo = ci
	}
	return msg
}
