// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
)

const (
	PhonePrompt        = "Phone number (inclua DDI): "
	PairingDisplayName = "Chrome (Linux)"
)

var (
	ErrPairingFailed  = errors.New("pairing failed")
	ErrNoPhoneNumber  = errors.New("no phone number given for pairing code login")
	ErrPairingStopped = errors.New("QR channel closed before pairing finished")
)

// LoginClient is the part of *whatsmeow.Client used for pairing.
type LoginClient interface {
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	Connect() error
	PairPhone(ctx context.Context, phone string, showPushNotification bool, clientType whatsmeow.PairClientType, clientDisplayName string) (string, error)
}

var _ LoginClient = (*whatsmeow.Client)(nil)

// LoginOptions controls how an unpaired device is linked.
type LoginOptions struct {
	// UsePairingCode requests an 8 character pairing code instead of showing QR codes.
	UsePairingCode bool
	// Phone is the phone number for pairing code login. If empty, it's read from Input.
	Phone string
	Input io.Reader
	// Output is where QR codes, prompts and pairing codes are written.
	Output io.Writer
	// QR receives the current QR code so it can be served over HTTP. Optional.
	QR *QRState
}

var notDigits = regexp.MustCompile(`\D+`)

func (opts *LoginOptions) phone() (string, error) {
	phone := opts.Phone
	if phone == "" && opts.Input != nil {
		_, _ = fmt.Fprint(opts.Output, PhonePrompt)
		line, err := bufio.NewReader(opts.Input).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read phone number: %w", err)
		}
		phone = strings.TrimSpace(line)
	}
	phone = notDigits.ReplaceAllString(phone, "")
	if phone == "" {
		return "", ErrNoPhoneNumber
	}
	return phone, nil
}

// Login connects an unpaired client and waits until it's paired, rendering QR codes or requesting a
// pairing code along the way. The caller must not call Connect itself.
func Login(ctx context.Context, client LoginClient, opts LoginOptions) error {
	log := zerolog.Ctx(ctx)
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err = client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if opts.QR != nil {
		defer opts.QR.Clear()
	}
	requestedCode := false
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			if opts.UsePairingCode {
				if requestedCode {
					continue
				}
				requestedCode = true
				phone, err := opts.phone()
				if err != nil {
					return err
				}
				code, err := client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, PairingDisplayName)
				if err != nil {
					return fmt.Errorf("failed to request pairing code: %w", err)
				}
				log.Info().Msg("Requested pairing code")
				_, _ = fmt.Fprintf(opts.Output, "Pairing code: %s\n", code)
			} else {
				if opts.QR != nil {
					opts.QR.Set(item.Code)
				}
				log.Info().Dur("timeout", item.Timeout).Msg("Received new QR code")
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, opts.Output)
			}
		case whatsmeow.QRChannelSuccess.Event:
			log.Info().Msg("Pairing successful")
			return nil
		case whatsmeow.QRChannelEventError:
			return fmt.Errorf("%w: %w", ErrPairingFailed, item.Error)
		default:
			return fmt.Errorf("%w: %s", ErrPairingFailed, item.Event)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrPairingStopped
}
