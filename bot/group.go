// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"go.mau.fi/cmdbot/command"
)

const (
	OpenedText     = "🔓 Grupo aberto! Todos podem conversar."
	ClosedText     = "🔒 Grupo fechado! Apenas admins podem enviar."
	InviteText     = "Follow this link to join my WhatsApp group: "
	InviteLinkBase = "https://chat.whatsapp.com/"
)

func (bot *Bot) registerGroupCommands() {
	bot.Register(bot.groupOnly(bot.setAnnounce(false, OpenedText)), command.OpenGroup)
	bot.Register(bot.groupOnly(bot.setAnnounce(true, ClosedText)), command.CloseGroup)
	bot.Register(bot.groupOnly(bot.setLocked(false)), "allow_modify_group")
	bot.Register(bot.groupOnly(bot.setLocked(true)), "block_modify_group")
	bot.Register(bot.groupOnly(bot.handleInvite), "invite_group")
	bot.Register(bot.groupOnly(bot.handleBan), "ban")
}

// groupOnly wraps a handler so that it only runs in group chats, and only for group admins if
// RequireAdmin is set.
func (bot *Bot) groupOnly(handler Handler) Handler {
	return func(ctx context.Context, evt *Event) error {
		if evt.Chat().Server != types.GroupServer {
			return ErrNotGroup
		}
		if bot.Config.RequireAdmin {
			info, err := bot.Client.GetGroupInfo(ctx, evt.Chat())
			if err != nil {
				return fmt.Errorf("failed to get group info: %w", err)
			} else if !isAdmin(info, evt.Info.Sender) {
				return ErrNotAdmin
			}
		}
		return handler(ctx, evt)
	}
}

func sameUser(a, b types.JID) bool {
	return !a.IsEmpty() && !b.IsEmpty() && a.User == b.User && a.Server == b.Server
}

func isAdmin(info *types.GroupInfo, sender types.JID) bool {
	sender = sender.ToNonAD()
	for _, participant := range info.Participants {
		if sameUser(participant.JID, sender) || sameUser(participant.LID, sender) || sameUser(participant.PhoneNumber, sender) {
			return participant.IsAdmin || participant.IsSuperAdmin
		}
	}
	return false
}

func (bot *Bot) setAnnounce(announce bool, reply string) Handler {
	return func(ctx context.Context, evt *Event) error {
		if err := bot.Client.SetGroupAnnounce(ctx, evt.Chat(), announce); err != nil {
			return fmt.Errorf("failed to set group announce mode to %t: %w", announce, err)
		}
		return bot.Typist.SendText(ctx, evt.Chat(), reply, nil)
	}
}

func (bot *Bot) setLocked(locked bool) Handler {
	return func(ctx context.Context, evt *Event) error {
		if err := bot.Client.SetGroupLocked(ctx, evt.Chat(), locked); err != nil {
			return fmt.Errorf("failed to set group locked mode to %t: %w", locked, err)
		}
		zerolog.Ctx(ctx).Info().Bool("locked", locked).Msg("Changed group info edit permission")
		return nil
	}
}

func (bot *Bot) handleInvite(ctx context.Context, evt *Event) error {
	link, err := bot.Client.GetGroupInviteLink(ctx, evt.Chat(), false)
	if err != nil {
		return fmt.Errorf("failed to get invite link: %w", err)
	}
	if !strings.HasPrefix(link, "https://") {
		link = InviteLinkBase + link
	}
	return bot.Typist.SendText(ctx, evt.Chat(), InviteText+link, nil)
}

func contextInfo(msg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	}
	return nil
}

func isAnyOf(jid types.JID, list []types.JID) bool {
	for _, other := range list {
		if sameUser(jid, other.ToNonAD()) {
			return true
		}
	}
	return false
}

// banTargets returns the users mentioned in the message and the sender of the quoted message,
// excluding anyone in protected.
func banTargets(msg *waE2E.Message, protected []types.JID) []types.JID {
	ci := contextInfo(msg)
	if ci == nil {
		return nil
	}
	candidates := append([]string{}, ci.GetMentionedJID()...)
	if ci.GetQuotedMessage() != nil && ci.GetParticipant() != "" {
		candidates = append(candidates, ci.GetParticipant())
	}
	seen := make(map[types.JID]struct{}, len(candidates))
	targets := make([]types.JID, 0, len(candidates))
	for _, raw := range candidates {
		jid, err := types.ParseJID(raw)
		if err != nil || jid.User == "" {
			continue
		}
		jid = jid.ToNonAD()
		if _, ok := seen[jid]; ok || isAnyOf(jid, protected) {
			continue
		}
		seen[jid] = struct{}{}
		targets = append(targets, jid)
	}
	return targets
}

func (bot *Bot) handleBan(ctx context.Context, evt *Event) error {
	protected := []types.JID{evt.Info.Sender}
	if bot.Self != nil {
		protected = append(protected, bot.Self()...)
	}
	targets := banTargets(evt.Message.Message, protected)
	if len(targets) == 0 {
		return ErrNoTargets
	}
	results, err := bot.Client.UpdateGroupParticipants(ctx, evt.Chat(), targets, whatsmeow.ParticipantChangeRemove)
	if err != nil {
		return fmt.Errorf("failed to remove participants: %w", err)
	}
	removed := 0
	for _, result := range results {
		if result.Error == 0 {
			removed++
		} else {
			zerolog.Ctx(ctx).Warn().
				Stringer("participant", result.JID).
				Int("error_code", result.Error).
				Msg("Failed to remove participant")
		}
	}
	return bot.Typist.SendText(ctx, evt.Chat(), fmt.Sprintf("🚫 %d participante(s) removido(s).", removed), evt.Quote())
}
