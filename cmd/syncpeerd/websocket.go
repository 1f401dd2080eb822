// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"io"

	"github.com/gorilla/websocket"
)

// websocketConn bridges a WebSocket connection of binary messages into the
// io.ReadWriteCloser a session's stream handle is spliced against.
type websocketConn struct {
	conn   *websocket.Conn
	reader io.Reader
}

func newWebsocketConn(conn *websocket.Conn) *websocketConn {
	return &websocketConn{conn: conn}
}

// Read continues the current binary message or fetches the next one,
// skipping messages of other types.
func (wsc *websocketConn) Read(p []byte) (int, error) {
	for {
		if wsc.reader == nil {
			mt, r, err := wsc.conn.NextReader()
			if err != nil {
				return 0, err
			} else if mt != websocket.BinaryMessage {
				continue
			}

			wsc.reader = r
		}

		n, err := wsc.reader.Read(p)
		if err == io.EOF {
			wsc.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}

		return n, err
	}
}

// Write sends p as one binary message.
func (wsc *websocketConn) Write(p []byte) (int, error) {
	wc, err := wsc.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return 0, err
	}

	if n, err := wc.Write(p); err != nil {
		return n, err
	}

	return len(p), wc.Close()
}

func (wsc *websocketConn) Close() error {
	return wsc.conn.Close()
}
