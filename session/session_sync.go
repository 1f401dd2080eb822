// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"

	"github.com/syncpeer/syncpeer-go/muxrpc"
)

// ErrSyncNotImplemented fails a sync channel on a session without an
// attached replication engine. The channel fails immediately instead of
// hanging, on the local and the remote side alike.
var ErrSyncNotImplemented = errors.New("sync channel not implemented")

// StreamSource produces the local counterpart stream of one sync channel,
// usually backed by a replication engine. The session layer forwards the
// stream's bytes verbatim; the replication protocol inside is none of its
// business.
type StreamSource func(ctx context.Context) (io.ReadWriteCloser, error)

// syncChannelHandler adapts a StreamSource to a duplex method handler. A nil
// source is the default "not implemented" behavior.
func syncChannelHandler(source StreamSource) muxrpc.DuplexHandler {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		if source == nil {
			return nil, ErrSyncNotImplemented
		}

		return source(ctx)
	}
}

// SyncMultifeed opens the feed-log sync channel towards the peer.
func (s *Session) SyncMultifeed(ctx context.Context) (io.ReadWriteCloser, error) {
	return s.openSyncChannel(ctx, MethodSyncMultifeed)
}

// SyncMediaBlobs opens the blob-store sync channel towards the peer.
func (s *Session) SyncMediaBlobs(ctx context.Context) (io.ReadWriteCloser, error) {
	return s.openSyncChannel(ctx, MethodSyncMediaBlobs)
}

func (s *Session) openSyncChannel(ctx context.Context, method string) (io.ReadWriteCloser, error) {
	binding, err := s.activeBinding()
	if err != nil {
		return nil, err
	}

	channel, err := binding.OpenDuplex(ctx, method)
	if err != nil {
		s.logger().WithError(err).WithField("method", method).Debug("Opening sync channel errored")
		return nil, err
	}

	s.logger().WithField("method", method).Info("Opened sync channel")

	return channel, nil
}
