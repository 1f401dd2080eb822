// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"fmt"
)

// onTimeout fires when the timeout watchdog expired without a refresh: no
// heartbeat was exchanged in either direction within the timeout. The
// session is closed with a remote timeout error.
func (s *Session) onTimeout() {
	s.logger().WithField("timeout", s.timeout).Warn("No heartbeat exchange within timeout")

	s.Close(fmt.Errorf("%w: no heartbeat exchange within %v", ErrRemoteTimeout, s.timeout), nil)
}

// onHeartbeat fires every half timeout. The own watchdog is replaced before
// the outbound call; a fired watchdog is inert and never re-armed in place.
// A successful call refreshes both watchdogs, a failed one changes nothing:
// sustained failure is the timeout watchdog's business.
func (s *Session) onHeartbeat() {
	s.mu.Lock()
	if s.state != stateActive {
		s.mu.Unlock()
		return
	}

	s.heartbeatWd.destroy()
	s.heartbeatWd = newWatchdog(s.clock, s.timeout/2, s.onHeartbeat)
	binding := s.binding
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := binding.Call(ctx, MethodHeartbeat, nil); err != nil {
		s.logger().WithError(err).Debug("Outbound heartbeat errored")
		return
	}

	s.logger().Debug("Outbound heartbeat succeeded")

	s.refreshWatchdogs()
}

// handleHeartbeat serves the peer's heartbeat: receiving a ping is itself
// proof of liveness, so both own watchdogs are refreshed.
func (s *Session) handleHeartbeat(_ context.Context, _ []byte) ([]byte, error) {
	s.logger().Debug("Received heartbeat")

	s.refreshWatchdogs()

	return nil, nil
}

// refreshWatchdogs replaces both watchdogs with freshly armed instances.
// No-op unless the session is active, which guards a heartbeat completing
// concurrently with a close against touching destroyed watchdogs.
func (s *Session) refreshWatchdogs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return
	}

	s.timeoutWd.destroy()
	s.timeoutWd = newWatchdog(s.clock, s.timeout, s.onTimeout)
	s.heartbeatWd.destroy()
	s.heartbeatWd = newWatchdog(s.clock, s.timeout/2, s.onHeartbeat)
}
