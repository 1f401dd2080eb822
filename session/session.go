// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/syncpeer/syncpeer-go/muxrpc"
)

// Manifest method names, shared by both peers.
const (
	MethodGetInfo        = "GetInfo"
	MethodHeartbeat      = "Heartbeat"
	MethodSyncMultifeed  = "SyncMultifeed"
	MethodSyncMediaBlobs = "SyncMediaBlobs"
)

// DefaultTimeout guards a session whose Options carry no timeout.
const DefaultTimeout = 20 * time.Second

var (
	// ErrAlreadyStreaming is returned by CreateStream while a Stream Handle
	// exists. The existing handle is unaffected.
	ErrAlreadyStreaming = errors.New("session already owns a stream")

	// ErrSessionClosed is returned by CreateStream on a closed session; a
	// Session instance is not reused after closing.
	ErrSessionClosed = errors.New("session is closed")

	// ErrNotStreaming is returned for remote operations without a stream.
	ErrNotStreaming = errors.New("session has no active stream")

	// ErrRemoteTimeout closes a session whose peer missed the heartbeat
	// deadline.
	ErrRemoteTimeout = errors.New("remote timeout")

	// ErrMissingIdentity is a construction failure of the identifying
	// session variant.
	ErrMissingIdentity = errors.New("device name and device type are required")
)

// Options configure a Session.
type Options struct {
	// Timeout after which a peer without any heartbeat exchange is declared
	// dead, defaulting to DefaultTimeout. Heartbeats are sent every half
	// Timeout.
	Timeout time.Duration

	// DeviceName and DeviceType identify this device; both are required for
	// the identifying variant and unused for the minimal one.
	DeviceName string
	DeviceType string

	// Initiator must be true on exactly one side of a connection. By
	// convention, the dialing peer initiates.
	Initiator bool

	// Feeds and Blobs produce the local counterpart streams of the two sync
	// channels. A nil source fails the channel with ErrSyncNotImplemented.
	Feeds StreamSource
	Blobs StreamSource

	// Clock defaults to the wall clock and is swapped out in tests.
	Clock clockwork.Clock
}

type sessionState int

const (
	stateUnconnected sessionState = iota
	stateActive
	stateClosing
	stateClosed
)

func (state sessionState) String() string {
	switch state {
	case stateUnconnected:
		return "unconnected"
	case stateActive:
		return "active"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Session is a liveness-guarded RPC endpoint facing one peer device.
//
// Its Stream Handle, produced once by CreateStream, is the session's whole
// network surface; heartbeats, peer info and the sync channels are all
// multiplexed inside it. Both watchdogs exist exactly while the session is
// active and are destroyed together on any close path.
type Session struct {
	info      PeerInfo
	timeout   time.Duration
	initiator bool
	withSync  bool
	feeds     StreamSource
	blobs     StreamSource
	clock     clockwork.Clock

	mu             sync.Mutex
	state          sessionState
	binding        *muxrpc.Binding
	stream         net.Conn
	timeoutWd      *watchdog
	heartbeatWd    *watchdog
	closeCallbacks []func(error)
}

// NewKeepaliveSession creates a minimal Session: peer info carries only the
// protocol version and the manifest knows no sync channels. Such a session is
// a pure keepalive-guarded link.
func NewKeepaliveSession(options Options) *Session {
	return newSession(options, PeerInfo{ProtocolVersion: KeepaliveProtocolVersion}, false)
}

// NewDeviceSession creates an identifying Session announcing the configured
// device name and type and serving the two sync channels. Missing identity
// fields fail fast with ErrMissingIdentity.
func NewDeviceSession(options Options) (*Session, error) {
	if options.DeviceName == "" || options.DeviceType == "" {
		return nil, ErrMissingIdentity
	}

	info := PeerInfo{
		ProtocolVersion: DeviceProtocolVersion,
		DeviceName:      options.DeviceName,
		DeviceType:      options.DeviceType,
	}

	return newSession(options, info, true), nil
}

func newSession(options Options, info PeerInfo, withSync bool) *Session {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	clock := options.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Session{
		info:      info,
		timeout:   timeout,
		initiator: options.Initiator,
		withSync:  withSync,
		feeds:     options.Feeds,
		blobs:     options.Blobs,
		clock:     clock,
	}
}

// Info returns this side's own PeerInfo.
func (s *Session) Info() PeerInfo {
	return s.info
}

// manifest declares this variant's methods.
func (s *Session) manifest() muxrpc.Manifest {
	manifest := muxrpc.Manifest{
		MethodGetInfo:   muxrpc.KindRequest,
		MethodHeartbeat: muxrpc.KindRequest,
	}

	if s.withSync {
		manifest[MethodSyncMultifeed] = muxrpc.KindDuplex
		manifest[MethodSyncMediaBlobs] = muxrpc.KindDuplex
	}

	return manifest
}

// handlers binds this variant's local method implementations.
func (s *Session) handlers() muxrpc.Handlers {
	handlers := muxrpc.Handlers{
		Request: map[string]muxrpc.RequestHandler{
			MethodGetInfo:   s.handleGetInfo,
			MethodHeartbeat: s.handleHeartbeat,
		},
	}

	if s.withSync {
		handlers.Duplex = map[string]muxrpc.DuplexHandler{
			MethodSyncMultifeed:  syncChannelHandler(s.feeds),
			MethodSyncMediaBlobs: syncChannelHandler(s.blobs),
		}
	}

	return handlers
}

// CreateStream binds the transport, arms both watchdogs and returns the
// session's Stream Handle. Legal exactly once per Session; onClose is
// invoked exactly once when the transport later reports closure, with nil
// for a clean close.
func (s *Session) CreateStream(onClose func(error)) (net.Conn, error) {
	binding, err := muxrpc.NewBinding(s.manifest(), s.handlers(), muxrpc.Options{Initiator: s.initiator})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()

	switch s.state {
	case stateUnconnected:
		// proceed
	case stateClosed:
		s.mu.Unlock()
		return nil, ErrSessionClosed
	default:
		s.mu.Unlock()
		return nil, ErrAlreadyStreaming
	}

	stream, err := binding.CreateStream()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.binding = binding
	s.stream = stream
	s.state = stateActive
	s.timeoutWd = newWatchdog(s.clock, s.timeout, s.onTimeout)
	s.heartbeatWd = newWatchdog(s.clock, s.timeout/2, s.onHeartbeat)

	s.mu.Unlock()

	go s.watchBinding(binding, onClose)

	s.logger().WithField("timeout", s.timeout).Info("Session started streaming")

	return stream, nil
}

// watchBinding waits for the transport to close down and performs the
// session's terminal cleanup: watchdogs destroyed, handle cleared, pending
// close callbacks and onClose invoked with the closing error.
func (s *Session) watchBinding(binding *muxrpc.Binding, onClose func(error)) {
	<-binding.Done()
	err := binding.Err()

	s.mu.Lock()
	if s.timeoutWd != nil {
		s.timeoutWd.destroy()
		s.timeoutWd = nil
	}
	if s.heartbeatWd != nil {
		s.heartbeatWd.destroy()
		s.heartbeatWd = nil
	}
	s.binding = nil
	s.stream = nil
	s.state = stateClosed
	callbacks := s.closeCallbacks
	s.closeCallbacks = nil
	s.mu.Unlock()

	s.logger().WithError(err).Info("Session closed")

	for _, callback := range callbacks {
		callback(err)
	}
	if onClose != nil {
		onClose(err)
	}
}

// Close this Session down, reporting reason to the peer-facing transport and
// every close callback. Safe to call in any state, any number of times,
// concurrently; each callback is invoked exactly once, asynchronously, with
// nil when there was no stream to close.
func (s *Session) Close(reason error, callback func(error)) {
	s.mu.Lock()

	switch s.state {
	case stateActive:
		s.state = stateClosing
		s.timeoutWd.destroy()
		s.timeoutWd = nil
		s.heartbeatWd.destroy()
		s.heartbeatWd = nil
		if callback != nil {
			s.closeCallbacks = append(s.closeCallbacks, callback)
		}
		binding := s.binding
		s.mu.Unlock()

		s.logger().WithError(reason).Info("Closing session down")
		go func() { _ = binding.Close(reason) }()

	case stateClosing:
		if callback != nil {
			s.closeCallbacks = append(s.closeCallbacks, callback)
		}
		s.mu.Unlock()

	default:
		s.mu.Unlock()
		if callback != nil {
			go callback(nil)
		}
	}
}

// RemoteInfo queries the peer's PeerInfo.
func (s *Session) RemoteInfo(ctx context.Context) (PeerInfo, error) {
	binding, err := s.activeBinding()
	if err != nil {
		return PeerInfo{}, err
	}

	payload, err := binding.Call(ctx, MethodGetInfo, nil)
	if err != nil {
		return PeerInfo{}, err
	}

	return unmarshalPeerInfo(payload)
}

// handleGetInfo serves the peer's GetInfo call: pure, side-effect-free.
func (s *Session) handleGetInfo(_ context.Context, _ []byte) ([]byte, error) {
	return marshalPeerInfo(s.info)
}

// activeBinding returns the bound transport, or ErrNotStreaming.
func (s *Session) activeBinding() (*muxrpc.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.binding == nil || s.state != stateActive {
		return nil, ErrNotStreaming
	}

	return s.binding, nil
}

// logger returns a new logrus.Entry for this Session.
func (s *Session) logger() (e *log.Entry) {
	if s.info.DeviceName != "" {
		e = log.WithField("session", s.info.DeviceName)
	} else {
		e = log.WithField("session", "keepalive")
	}

	return
}
