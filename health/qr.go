// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package health

import (
	"net/http"

	"github.com/skip2/go-qrcode"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// QRImageSize is the width and height of the PNG served by QRHandler.
const QRImageSize = 256

// QRHandler serves the current pairing QR code as a PNG. It responds with 404 when there is no
// code to scan, e.g. because the device is already paired.
func QRHandler(currentCode func() string, log waLog.Logger) http.HandlerFunc {
	if log == nil {
		log = waLog.Noop
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := currentCode()
		if code == "" {
			http.Error(w, "no QR code available", http.StatusNotFound)
			return
		}
		png, err := qrcode.Encode(code, qrcode.Medium, QRImageSize)
		if err != nil {
			log.Errorf("Failed to encode QR code: %v", err)
			http.Error(w, "failed to encode QR code", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}
