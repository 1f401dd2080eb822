// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package muxrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/libp2p/go-yamux/v4"
	log "github.com/sirupsen/logrus"
)

// ErrAlreadyBound is returned by CreateStream if the Binding already produced
// its Stream Handle. A Binding fronts exactly one underlying connection.
var ErrAlreadyBound = errors.New("binding already produced its stream")

// ErrNotBound is returned for calls against a Binding without a stream.
var ErrNotBound = errors.New("binding has no stream yet")

// Options configure a Binding.
type Options struct {
	// Initiator must be true on exactly one side of a connection; it decides
	// the yamux role. By convention, the dialing peer initiates.
	Initiator bool
}

// Binding multiplexes the manifest's methods over one Stream Handle.
//
// It is created unbound, produces its Stream Handle once via CreateStream and
// serves both directions until either side closes: local Close calls, a peer
// closing down, or a transport failure all converge in the Done channel
// firing exactly once.
type Binding struct {
	manifest  Manifest
	handlers  Handlers
	initiator bool

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	ysess *yamux.Session
	inner net.Conn

	closeOnce sync.Once
	closeErr  error
	doneChan  chan struct{}
}

// NewBinding checks the handlers against the manifest and creates an unbound
// Binding. CreateStream produces the actual Stream Handle.
func NewBinding(manifest Manifest, handlers Handlers, options Options) (*Binding, error) {
	for method, kind := range manifest {
		if err := kind.CheckValid(); err != nil {
			return nil, fmt.Errorf("manifest method %q: %w", method, err)
		}
	}

	if err := handlers.checkAgainst(manifest); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Binding{
		manifest:  manifest,
		handlers:  handlers,
		initiator: options.Initiator,
		ctx:       ctx,
		cancel:    cancel,
		doneChan:  make(chan struct{}),
	}, nil
}

// CreateStream binds the multiplexer and returns the Stream Handle, a duplex
// byte stream carrying every call of this Binding. The caller splices it
// to a socket or another transport unmodified.
func (b *Binding) CreateStream() (net.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ysess != nil {
		return nil, ErrAlreadyBound
	}

	outer, inner := net.Pipe()

	conf := yamux.DefaultConfig()
	conf.EnableKeepAlive = false
	conf.LogOutput = io.Discard

	var (
		ysess *yamux.Session
		err   error
	)
	if b.initiator {
		ysess, err = yamux.Client(inner, conf, nil)
	} else {
		ysess, err = yamux.Server(inner, conf, nil)
	}
	if err != nil {
		_ = inner.Close()
		_ = outer.Close()
		return nil, err
	}

	b.ysess = ysess
	b.inner = inner

	go b.handleAccept(ysess)

	return outer, nil
}

// Close this Binding down, recording reason as the closing error handed out
// by Err. Idempotent; safe before CreateStream and concurrently with itself.
func (b *Binding) Close(reason error) error {
	return b.finish(reason)
}

// Done closes exactly once after the Binding closed down, whether by local
// Close, the peer closing, or a transport failure.
func (b *Binding) Done() <-chan struct{} {
	return b.doneChan
}

// Err reports the closing error after Done fired: the reason of a local
// Close, the transport's failure, or nil for a clean closure.
func (b *Binding) Err() error {
	select {
	case <-b.doneChan:
		return b.closeErr
	default:
		return nil
	}
}

// finish closes down within a sync.Once: the closing error is recorded first,
// then the multiplexer and the internal pipe end are torn down, severing the
// Stream Handle and every open call.
func (b *Binding) finish(reason error) error {
	var teardownErr error

	b.closeOnce.Do(func() {
		b.closeErr = reason
		b.cancel()

		b.mu.Lock()
		ysess, inner := b.ysess, b.inner
		b.mu.Unlock()

		var merr *multierror.Error
		if ysess != nil {
			if err := ysess.Close(); err != nil {
				merr = multierror.Append(merr, err)
			}
		}
		if inner != nil {
			if err := inner.Close(); err != nil {
				merr = multierror.Append(merr, err)
			}
		}
		teardownErr = merr.ErrorOrNil()

		close(b.doneChan)

		b.logger().WithError(reason).Debug("Binding closed down")
	})

	return teardownErr
}

// handleAccept dispatches incoming call streams until the multiplexer dies.
func (b *Binding) handleAccept(ysess *yamux.Session) {
	for {
		stream, err := ysess.AcceptStream()
		if err != nil {
			b.finishFromTransport(err)
			return
		}

		go b.handleStream(stream)
	}
}

// finishFromTransport converts the accept loop's terminal error into the
// Binding's closing error. An expected end of stream is a clean closure and
// reported as nil; everything else is surfaced verbatim.
func (b *Binding) finishFromTransport(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, yamux.ErrSessionShutdown) || errors.Is(err, yamux.ErrRemoteGoAway) {
		_ = b.finish(nil)
		return
	}

	_ = b.finish(err)
}

// logger returns a new logrus.Entry for this Binding.
func (b *Binding) logger() *log.Entry {
	role := "responder"
	if b.initiator {
		role = "initiator"
	}

	return log.WithField("muxrpc", role)
}
