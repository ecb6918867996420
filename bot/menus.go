// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package bot

import (
	"context"
)

const (
	MenuCaption   = "> Menu\n\n/Service\n/Group\n/Help"
	GroupCaption  = "/Admin\n/Member"
	AdminCaption  = "> Admin\n\n> Permissions:\n/open_group\n/close_group\n/allow_modify_group\n/block_modify_group\n/invite_group\n>Moderation:\n/ban"
	MemberCaption = "> "
	HelpCaption   = "System/\n/Report_Bug"
)

func (bot *Bot) imageReply(image func() string, caption string) Handler {
	return func(ctx context.Context, evt *Event) error {
		return bot.Typist.SendImage(ctx, evt.Chat(), image(), caption, nil)
	}
}

func (bot *Bot) registerMenus() {
	menuImage := func() string { return bot.Config.MenuImage }
	groupImage := func() string { return bot.Config.GroupImage }
	helpImage := func() string { return bot.Config.HelpImage }

	bot.Register(bot.imageReply(menuImage, MenuCaption), "menu")
	bot.Register(bot.imageReply(groupImage, GroupCaption), "group")
	bot.Register(bot.imageReply(groupImage, AdminCaption), "admin")
	bot.Register(bot.imageReply(groupImage, MemberCaption), "member")
	bot.Register(bot.imageReply(helpImage, HelpCaption), "help")
}
