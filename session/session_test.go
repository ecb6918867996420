// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package session

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type fakeLoginClient struct {
	items      []whatsmeow.QRChannelItem
	connected  bool
	pairPhones []string
	pairErr    error
}

func (fc *fakeLoginClient) GetQRChannel(context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	ch := make(chan whatsmeow.QRChannelItem, len(fc.items))
	for _, item := range fc.items {
		ch <- item
	}
	close(ch)
	return ch, nil
}

func (fc *fakeLoginClient) Connect() error {
	fc.connected = true
	return nil
}

func (fc *fakeLoginClient) PairPhone(_ context.Context, phone string, _ bool, _ whatsmeow.PairClientType, _ string) (string, error) {
	fc.pairPhones = append(fc.pairPhones, phone)
	if fc.pairErr != nil {
		return "", fc.pairErr
	}
	return "ABCD-EFGH", nil
}

func codeItem(code string) whatsmeow.QRChannelItem {
	return whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: code, Timeout: time.Minute}
}

func TestLoginQR(t *testing.T) {
	client := &fakeLoginClient{items: []whatsmeow.QRChannelItem{
		codeItem("2@first"),
		codeItem("2@second"),
		whatsmeow.QRChannelSuccess,
	}}
	var out bytes.Buffer
	qr := &QRState{}
	err := Login(context.Background(), client, LoginOptions{Output: &out, QR: qr})
	require.NoError(t, err)
	assert.True(t, client.connected)
	assert.NotEmpty(t, out.String())
	assert.Empty(t, qr.Get(), "QR code must be cleared after pairing")
	assert.False(t, qr.Updated().IsZero())
	assert.Empty(t, client.pairPhones)
}

func TestLoginPairingCode(t *testing.T) {
	client := &fakeLoginClient{items: []whatsmeow.QRChannelItem{
		codeItem("2@first"),
		codeItem("2@second"),
		whatsmeow.QRChannelSuccess,
	}}
	var out bytes.Buffer
	err := Login(context.Background(), client, LoginOptions{
		UsePairingCode: true,
		Input:          strings.NewReader("+55 (11) 99999-9999\n"),
		Output:         &out,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"5511999999999"}, client.pairPhones)
	assert.Contains(t, out.String(), PhonePrompt)
	assert.Contains(t, out.String(), "Pairing code: ABCD-EFGH")
}

func TestLoginPairingCodeFromFlag(t *testing.T) {
	client := &fakeLoginClient{items: []whatsmeow.QRChannelItem{codeItem("2@first"), whatsmeow.QRChannelSuccess}}
	var out bytes.Buffer
	err := Login(context.Background(), client, LoginOptions{UsePairingCode: true, Phone: "5511888888888", Output: &out})
	require.NoError(t, err)
	assert.Equal(t, []string{"5511888888888"}, client.pairPhones)
	assert.NotContains(t, out.String(), PhonePrompt)
}

func TestLoginErrors(t *testing.T) {
	t.Run("NoPhone", func(t *testing.T) {
		client := &fakeLoginClient{items: []whatsmeow.QRChannelItem{codeItem("2@first")}}
		err := Login(context.Background(), client, LoginOptions{UsePairingCode: true, Input: strings.NewReader("\n")})
		assert.ErrorIs(t, err, ErrNoPhoneNumber)
	})
	t.Run("PairPhoneFails", func(t *testing.T) {
		client := &fakeLoginClient{items: []whatsmeow.QRChannelItem{codeItem("2@first")}, pairErr: errors.New("rate limited")}
		err := Login(context.Background(), client, LoginOptions{UsePairingCode: true, Phone: "1"})
		assert.ErrorContains(t, err, "rate limited")
	})
	t.Run("Timeout", func(t *testing.T) {
		client := &fakeLoginClient{items: []whatsmeow.QRChannelItem{codeItem("2@first"), whatsmeow.QRChannelTimeout}}
		err := Login(context.Background(), client, LoginOptions{})
		assert.ErrorIs(t, err, ErrPairingFailed)
	})
	t.Run("Error", func(t *testing.T) {
		errBroken := errors.New("broken")
		client := &fakeLoginClient{items: []whatsmeow.QRChannelItem{{Event: whatsmeow.QRChannelEventError, Error: errBroken}}}
		err := Login(context.Background(), client, LoginOptions{})
		assert.ErrorIs(t, err, ErrPairingFailed)
		assert.ErrorIs(t, err, errBroken)
	})
	t.Run("ChannelClosed", func(t *testing.T) {
		err := Login(context.Background(), &fakeLoginClient{}, LoginOptions{})
		assert.ErrorIs(t, err, ErrPairingStopped)
	})
}

type presenceRecorder struct {
	sent chan types.Presence
}

func (pr *presenceRecorder) SendPresence(_ context.Context, state types.Presence) error {
	pr.sent <- state
	return nil
}

func TestWatcher(t *testing.T) {
	pr := &presenceRecorder{sent: make(chan types.Presence, 1)}
	w := NewWatcher(pr, zerolog.Nop())
	w.HandleEvent(&events.Connected{})
	select {
	case state := <-pr.sent:
		assert.Equal(t, types.PresenceAvailable, state)
	case <-time.After(5 * time.Second):
		t.Fatal("available presence was not sent")
	}

	w.HandleEvent(&events.Disconnected{})
	select {
	case <-w.Done():
		t.Fatal("disconnect must not end the session")
	default:
	}

	w.HandleEvent(&events.LoggedOut{})
	w.HandleEvent(&events.StreamReplaced{})
	<-w.Done()
	assert.ErrorIs(t, w.Err(), ErrLoggedOut)
}

func TestOpenStoreSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	st, err := OpenStore(ctx, DialectSQLite, "file:"+path+"?_foreign_keys=on", waLog.Noop)
	require.NoError(t, err)
	defer st.Close()
	assert.Nil(t, st.Pool)

	device, err := st.Device(ctx)
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Nil(t, device.ID, "new devices are unpaired")
}

func TestOpenStoreUnknownDialect(t *testing.T) {
	_, err := OpenStore(context.Background(), "mysql", "", waLog.Noop)
	assert.ErrorIs(t, err, ErrUnknownDialect)
}
