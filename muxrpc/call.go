// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package muxrpc

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
	"github.com/libp2p/go-yamux/v4"
)

// CallError is a remote method failure, carrying the reason the peer
// reported in its response frame.
type CallError struct {
	Method string
	Reason string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("remote call %s failed: %s", e.Method, e.Reason)
}

// open starts a call stream for the given method and writes its header.
func (b *Binding) open(ctx context.Context, method string, kind CallKind) (*yamux.Stream, error) {
	if declared, ok := b.manifest[method]; !ok {
		return nil, fmt.Errorf("method %q is not in the manifest", method)
	} else if declared != kind {
		return nil, fmt.Errorf("method %q is declared as %v, not %v", method, declared, kind)
	}

	b.mu.Lock()
	ysess := b.ysess
	b.mu.Unlock()

	if ysess == nil {
		return nil, ErrNotBound
	}

	stream, err := ysess.OpenStream(ctx)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	header := callHeader{Method: method, Kind: kind}
	if err := cboring.Marshal(&header, stream); err != nil {
		_ = stream.Close()
		return nil, err
	}

	return stream, nil
}

// Call invokes a request/response method on the peer and returns the
// response payload. A context deadline bounds the whole exchange.
func (b *Binding) Call(ctx context.Context, method string, payload []byte) ([]byte, error) {
	stream, err := b.open(ctx, method, KindRequest)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Close() }()

	if err := cboring.WriteByteString(payload, stream); err != nil {
		return nil, err
	}

	var response callResponse
	if err := cboring.Unmarshal(&response, stream); err != nil {
		return nil, err
	}

	if response.Code != responseOk {
		return nil, &CallError{Method: method, Reason: response.Reason}
	}

	return response.Payload, nil
}

// OpenDuplex invokes a duplex method on the peer and returns the raw byte
// channel after the peer acknowledged the call. A failed call returns the
// peer's error immediately; the channel never hangs half-open.
func (b *Binding) OpenDuplex(ctx context.Context, method string) (io.ReadWriteCloser, error) {
	stream, err := b.open(ctx, method, KindDuplex)
	if err != nil {
		return nil, err
	}

	var response callResponse
	if err := cboring.Unmarshal(&response, stream); err != nil {
		_ = stream.Close()
		return nil, err
	}

	if response.Code != responseOk {
		_ = stream.Close()
		return nil, &CallError{Method: method, Reason: response.Reason}
	}

	// The response frame was bounded by the context's deadline, the byte
	// channel itself is not.
	_ = stream.SetDeadline(time.Time{})

	return stream, nil
}
