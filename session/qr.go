// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package session

import (
	"sync"
	"time"
)

// QRState holds the QR code that is currently waiting to be scanned.
type QRState struct {
	lock    sync.RWMutex
	code    string
	updated time.Time
}

func (qs *QRState) Set(code string) {
	qs.lock.Lock()
	qs.code = code
	qs.updated = time.Now()
	qs.lock.Unlock()
}

// Get returns the current code, or an empty string if there's nothing to scan.
func (qs *QRState) Get() string {
	qs.lock.RLock()
	defer qs.lock.RUnlock()
	return qs.code
}

// Updated returns when the code was last changed.
func (qs *QRState) Updated() time.Time {
	qs.lock.RLock()
	defer qs.lock.RUnlock()
	return qs.updated
}

func (qs *QRState) Clear() {
	qs.Set("")
}
