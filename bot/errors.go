// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package bot

import (
	"errors"
)

// Errors caused by how a command was used. They're reported back to the chat.
var (
	ErrNotGroup  = errors.New("command can only be used in groups")
	ErrNotAdmin  = errors.New("sender is not a group admin")
	ErrNoTargets = errors.New("no participants mentioned or quoted")
	ErrNoMedia   = errors.New("no image or video attached")
)

var userErrorReplies = map[error]string{
	ErrNotGroup:  "❗ Este comando só funciona em grupos.",
	ErrNotAdmin:  "❗ Apenas admins do grupo podem usar este comando.",
	ErrNoTargets: "❗ Mencione ou responda a mensagem de quem deve ser removido.",
	ErrNoMedia:   "❗ Envie uma imagem ou vídeo junto com o comando /sticker.",
}

func userErrorReply(err error) (string, bool) {
	for target, reply := range userErrorReplies {
		if errors.Is(err, target) {
			return reply, true
		}
	}
	return "", false
}
