// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// syncpeer-info dials a peer, queries its identity over a minimal
// keepalive session and prints the answer.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/syncpeer/syncpeer-go/session"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s host:port", os.Args[0])
	}

	conn, err := net.DialTimeout("tcp", os.Args[1], 10*time.Second)
	if err != nil {
		log.WithError(err).Fatal("Failed to dial the peer")
	}

	sess := session.NewKeepaliveSession(session.Options{Initiator: true})

	closed := make(chan error, 1)
	handle, err := sess.CreateStream(func(closeErr error) {
		closed <- closeErr
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create the session's stream")
	}

	go func() {
		_, _ = io.Copy(handle, conn)
		_ = handle.Close()
	}()
	go func() {
		_, _ = io.Copy(conn, handle)
		_ = conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info, err := sess.RemoteInfo(ctx)
	if err != nil {
		log.WithError(err).Fatal("Failed to query the peer's info")
	}

	fmt.Printf("protocol version: %s\n", info.ProtocolVersion)
	if info.DeviceName != "" {
		fmt.Printf("device name:      %s\n", info.DeviceName)
	}
	if info.DeviceType != "" {
		fmt.Printf("device type:      %s\n", info.DeviceType)
	}

	sess.Close(nil, nil)
	<-closed
}
