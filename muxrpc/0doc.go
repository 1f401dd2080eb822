// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package muxrpc binds a manifest of named remote methods to a single duplex
// byte stream, the Stream Handle, which is the session's complete network
// surface.
//
// Every call is carried as one yamux stream: the opener writes a CBOR call
// header, request/response methods exchange one payload and one response
// frame, duplex methods degrade into a raw byte channel after a successful
// response frame. A Binding is bound to exactly one Stream Handle and is
// discarded after closing.
package muxrpc
