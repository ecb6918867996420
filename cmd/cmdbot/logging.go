// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

func newLogger(out io.Writer, level, format string) (zerolog.Logger, error) {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	switch format {
	case "pretty":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.StampMilli}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", format)
	}
	return zerolog.New(out).Level(parsedLevel).With().Timestamp().Logger(), nil
}

func subLogger(log zerolog.Logger, module string) zerolog.Logger {
	return log.With().Str("module", module).Logger()
}

func waLogger(log zerolog.Logger, module string) waLog.Logger {
	return waLog.Zerolog(subLogger(log, module))
}
