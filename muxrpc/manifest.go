// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package muxrpc

import (
	"context"
	"fmt"
	"io"
)

// CallKind distinguishes how a manifest method is carried on the wire.
type CallKind uint64

const (
	// KindRequest is a request/response method: one payload out, one
	// response frame back.
	KindRequest CallKind = 0

	// KindDuplex is a long-lived duplex method: after a successful response
	// frame, the underlying stream carries raw bytes in both directions.
	KindDuplex CallKind = 1
)

func (kind CallKind) String() string {
	switch kind {
	case KindRequest:
		return "request"
	case KindDuplex:
		return "duplex"
	default:
		return fmt.Sprintf("CallKind(%d)", uint64(kind))
	}
}

// CheckValid errors for an unknown CallKind.
func (kind CallKind) CheckValid() error {
	switch kind {
	case KindRequest, KindDuplex:
		return nil
	default:
		return fmt.Errorf("unknown call kind %d", uint64(kind))
	}
}

// Manifest declares the remote methods both peers agree on, method name to
// CallKind. Both sides of a session must bind the same Manifest.
type Manifest map[string]CallKind

// RequestHandler serves one request/response method invocation.
type RequestHandler func(ctx context.Context, payload []byte) ([]byte, error)

// DuplexHandler serves one duplex method invocation by producing the local
// counterpart stream. The Binding forwards bytes between the produced stream
// and the peer until either side ends.
type DuplexHandler func(ctx context.Context) (io.ReadWriteCloser, error)

// Handlers maps manifest methods to their local implementations.
type Handlers struct {
	Request map[string]RequestHandler
	Duplex  map[string]DuplexHandler
}

// checkAgainst verifies that each handler belongs to a manifest method of the
// matching kind. Manifest methods without a handler are legal; calling them
// is the peer's error.
func (h Handlers) checkAgainst(manifest Manifest) error {
	for method := range h.Request {
		if kind, ok := manifest[method]; !ok {
			return fmt.Errorf("request handler for %q: method is not in the manifest", method)
		} else if kind != KindRequest {
			return fmt.Errorf("request handler for %q: manifest declares %v", method, kind)
		}
	}

	for method := range h.Duplex {
		if kind, ok := manifest[method]; !ok {
			return fmt.Errorf("duplex handler for %q: method is not in the manifest", method)
		} else if kind != KindDuplex {
			return fmt.Errorf("duplex handler for %q: manifest declares %v", method, kind)
		}
	}

	return nil
}
