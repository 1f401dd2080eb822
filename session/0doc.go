// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package session implements the liveness-guarded session layer between two
// peer devices.
//
// A Session fronts one muxrpc Binding and guards it with two watchdogs: the
// timeout watchdog closes the session if no heartbeat was exchanged in time,
// the heartbeat watchdog sends a ping every half timeout. The two long-lived
// sync channels, multifeed and media blobs, are handed to external
// replication engines through StreamSources and fail immediately when no
// engine is attached.
package session
