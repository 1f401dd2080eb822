// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/syncpeer/syncpeer-go/discovery"
	"github.com/syncpeer/syncpeer-go/session"
)

// node owns this daemon's listeners and all sessions established through
// them or through outgoing dials.
type node struct {
	deviceName string
	deviceType string
	timeout    time.Duration

	mu        sync.Mutex
	closers   []io.Closer
	sessions  map[*session.Session]struct{}
	connected map[string]struct{}
	closed    bool
}

func newNode(deviceName, deviceType string, timeout time.Duration) *node {
	return &node{
		deviceName: deviceName,
		deviceType: deviceType,
		timeout:    timeout,

		sessions:  make(map[*session.Session]struct{}),
		connected: make(map[string]struct{}),
	}
}

func (n *node) logger() *log.Entry {
	return log.WithField("node", n.deviceName)
}

// listenTCP accepts raw TCP connections on endpoint, starting a responding
// session on each one.
func (n *node) listenTCP(endpoint string) error {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.closers = append(n.closers, listener)
	n.mu.Unlock()

	n.logger().WithField("endpoint", endpoint).Info("Listening for TCP peers")

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				n.logger().WithError(err).Debug("TCP listener stopped accepting")
				return
			}

			if err := n.attach(conn, conn.RemoteAddr().String(), false); err != nil {
				n.logger().WithError(err).Warn("Failed to start a session for an accepted connection")
				_ = conn.Close()
			}
		}
	}()

	return nil
}

// listenWebSocket serves a WebSocket endpoint under /sync on endpoint,
// bridging each upgraded connection into a responding session.
func (n *node) listenWebSocket(endpoint string) error {
	httpMux := http.NewServeMux()
	httpServer := &http.Server{
		Addr:    endpoint,
		Handler: httpMux,
	}

	upgrader := websocket.Upgrader{}
	httpMux.HandleFunc("/sync", func(rw http.ResponseWriter, r *http.Request) {
		conn, connErr := upgrader.Upgrade(rw, r, nil)
		if connErr != nil {
			n.logger().WithError(connErr).Warn("Upgrading HTTP request to WebSocket errored")
			return
		}

		if err := n.attach(newWebsocketConn(conn), conn.RemoteAddr().String(), false); err != nil {
			n.logger().WithError(err).Warn("Failed to start a session for a WebSocket connection")
			_ = conn.Close()
		}
	})

	n.mu.Lock()
	n.closers = append(n.closers, httpServer)
	n.mu.Unlock()

	n.logger().WithField("endpoint", endpoint).Info("Listening for WebSocket peers")

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger().WithError(err).Warn("WebSocket listener failed")
		}
	}()

	return nil
}

// dial establishes an initiating session to a remote TCP endpoint.
func (n *node) dial(endpoint string) error {
	n.mu.Lock()
	if _, ok := n.connected[endpoint]; ok {
		n.mu.Unlock()
		return nil
	}
	n.connected[endpoint] = struct{}{}
	n.mu.Unlock()

	conn, err := net.DialTimeout("tcp", endpoint, n.timeout)
	if err != nil {
		n.forget(endpoint)
		return err
	}

	if err := n.attach(conn, endpoint, true); err != nil {
		n.forget(endpoint)
		_ = conn.Close()
		return err
	}

	return nil
}

// attach wraps conn in a new session and splices the session's stream
// handle to it. The peer address is only used for logging and dial
// deduplication.
func (n *node) attach(conn io.ReadWriteCloser, peer string, initiator bool) error {
	sess, err := session.NewDeviceSession(session.Options{
		Timeout:    n.timeout,
		DeviceName: n.deviceName,
		DeviceType: n.deviceType,
		Initiator:  initiator,
	})
	if err != nil {
		return err
	}

	handle, err := sess.CreateStream(func(closeErr error) {
		n.mu.Lock()
		delete(n.sessions, sess)
		delete(n.connected, peer)
		n.mu.Unlock()

		_ = conn.Close()

		if closeErr != nil {
			n.logger().WithField("peer", peer).WithError(closeErr).Info("Session closed")
		} else {
			n.logger().WithField("peer", peer).Info("Session closed")
		}
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		sess.Close(nil, nil)
		return fmt.Errorf("node is closed")
	}
	n.sessions[sess] = struct{}{}
	n.mu.Unlock()

	n.logger().WithFields(log.Fields{
		"peer":      peer,
		"initiator": initiator,
	}).Info("Session established")

	go splice(conn, handle, func(err error) {
		sess.Close(err, nil)
	})

	return nil
}

func (n *node) forget(endpoint string) {
	n.mu.Lock()
	delete(n.connected, endpoint)
	n.mu.Unlock()
}

// handleDiscovered dials peers reported by the discovery service, skipping
// our own announcements.
func (n *node) handleDiscovered(announcement discovery.Announcement, address string) {
	if announcement.DeviceName == n.deviceName {
		return
	}

	endpoint := fmt.Sprintf("%s:%d", address, announcement.Port)
	if err := n.dial(endpoint); err != nil {
		n.logger().WithFields(log.Fields{
			"peer":  endpoint,
			"error": err,
		}).Debug("Failed to dial a discovered peer")
	}
}

// close shuts all listeners and sessions down, accumulating their errors.
func (n *node) close() (err error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true

	closers := n.closers
	sessions := make([]*session.Session, 0, len(n.sessions))
	for sess := range n.sessions {
		sessions = append(sessions, sess)
	}
	n.mu.Unlock()

	for _, closer := range closers {
		if closeErr := closer.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}

	var wg sync.WaitGroup
	var errMu sync.Mutex
	for _, sess := range sessions {
		wg.Add(1)
		sess.Close(nil, func(closeErr error) {
			if closeErr != nil {
				errMu.Lock()
				err = multierror.Append(err, closeErr)
				errMu.Unlock()
			}
			wg.Done()
		})
	}
	wg.Wait()

	return
}

// splice copies bytes between the network connection and the session's
// stream handle until either side fails, then reports the first error.
func splice(conn, handle io.ReadWriteCloser, done func(error)) {
	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			_ = conn.Close()
			_ = handle.Close()

			if err == io.EOF {
				err = nil
			}
			done(err)
		})
	}

	go func() {
		_, err := io.Copy(handle, conn)
		finish(err)
	}()

	_, err := io.Copy(conn, handle)
	finish(err)
}
