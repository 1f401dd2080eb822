// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// watchdog is a restartable, cancelable single-shot delay: onFire fires once
// after the delay elapsed without an intervening refresh. A fired watchdog is
// inert; the Session replaces instances instead of re-arming them, so no
// stale refresh can race a just-fired timer.
type watchdog struct {
	clock  clockwork.Clock
	delay  time.Duration
	onFire func()

	mu        sync.Mutex
	timer     clockwork.Timer
	fired     bool
	destroyed bool
}

// newWatchdog arms a watchdog for one firing of onFire after delay. The
// callback runs on its own goroutine, detached from the creator.
func newWatchdog(clock clockwork.Clock, delay time.Duration, onFire func()) *watchdog {
	wd := &watchdog{
		clock:  clock,
		delay:  delay,
		onFire: onFire,
	}
	wd.timer = clock.AfterFunc(delay, wd.fire)

	return wd
}

func (wd *watchdog) fire() {
	wd.mu.Lock()
	if wd.destroyed {
		wd.mu.Unlock()
		return
	}
	wd.fired = true
	wd.mu.Unlock()

	wd.onFire()
}

// refresh resets the remaining delay back to the full delay. No-op once the
// watchdog fired or was destroyed.
func (wd *watchdog) refresh() {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	if wd.fired || wd.destroyed {
		return
	}

	wd.timer.Reset(wd.delay)
}

// destroy cancels a pending firing. Idempotent.
func (wd *watchdog) destroy() {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	if wd.destroyed {
		return
	}

	wd.destroyed = true
	wd.timer.Stop()
}
