// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package command recognizes bot commands in incoming chat messages.
package command

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

// Prefix is the character sequence that starts a command.
const Prefix = "/"

// Names of the commands that are also accepted without the prefix.
const (
	OpenGroup  = "open_group"
	CloseGroup = "close_group"
)

var bareKeywords = map[string]struct{}{
	OpenGroup:  {},
	CloseGroup: {},
}

// Command is a parsed bot command.
type Command struct {
	// Name is the lowercased command name without the prefix.
	Name string
	// Args are the whitespace-separated fields following the name.
	Args []string
	// Raw is everything after the prefix, trimmed and lowercased.
	Raw string
}

// Parse checks whether the given message text is a command.
//
// Text is trimmed and lowercased first. A command either starts with Prefix or is exactly one of
// the bare keywords (open_group, close_group). Text that only consists of the prefix is not a command.
func Parse(text string) (Command, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if rest, ok := strings.CutPrefix(t, Prefix); ok {
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return Command{}, false
		}
		return Command{
			Name: fields[0],
			Args: fields[1:],
			Raw:  strings.TrimSpace(rest),
		}, true
	}
	if _, ok := bareKeywords[t]; ok {
		return Command{Name: t, Args: []string{}, Raw: t}, true
	}
	return Command{}, false
}

// ExtractText returns the text a command may be written in: the plain conversation text, the
// extended text, or the caption of an image or video, whichever is set first.
func ExtractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	for _, text := range []string{
		msg.GetConversation(),
		msg.GetExtendedTextMessage().GetText(),
		msg.GetImageMessage().GetCaption(),
		msg.GetVideoMessage().GetCaption(),
	} {
		if text != "" {
			return text
		}
	}
	return ""
}
