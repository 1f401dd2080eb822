// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package muxrpc

import (
	"fmt"
	"io"
	"sync"

	"github.com/dtn7/cboring"
	"github.com/libp2p/go-yamux/v4"
)

// handleStream serves one incoming call stream: header, manifest check,
// handler dispatch.
func (b *Binding) handleStream(stream *yamux.Stream) {
	var header callHeader
	if err := cboring.Unmarshal(&header, stream); err != nil {
		b.logger().WithError(err).Debug("Unmarshalling call header errored")
		_ = stream.Close()
		return
	}

	b.logger().WithField("call", header).Debug("Received incoming call")

	kind, ok := b.manifest[header.Method]
	if !ok {
		b.respondError(stream, fmt.Sprintf("method %q is not in the manifest", header.Method))
		return
	}
	if kind != header.Kind {
		b.respondError(stream, fmt.Sprintf(
			"method %q is declared as %v, called as %v", header.Method, kind, header.Kind))
		return
	}

	switch kind {
	case KindRequest:
		b.handleRequest(stream, header.Method)

	case KindDuplex:
		b.handleDuplex(stream, header.Method)
	}
}

// handleRequest reads one payload, invokes the bound handler and answers with
// exactly one response frame.
func (b *Binding) handleRequest(stream *yamux.Stream, method string) {
	defer func() { _ = stream.Close() }()

	payload, err := cboring.ReadByteString(stream)
	if err != nil {
		b.logger().WithError(err).WithField("method", method).Debug("Reading request payload errored")
		return
	}

	handler := b.handlers.Request[method]
	if handler == nil {
		b.respond(stream, newErrorResponse(fmt.Sprintf("no handler bound for %q", method)))
		return
	}

	result, handlerErr := handler(b.ctx, payload)
	if handlerErr != nil {
		b.respond(stream, newErrorResponse(handlerErr.Error()))
		return
	}

	b.respond(stream, newOkResponse(result))
}

// handleDuplex asks the bound handler for the local counterpart stream and,
// after acknowledging the call, forwards bytes between both until either side
// ends. Handler failures are answered before any channel bytes.
func (b *Binding) handleDuplex(stream *yamux.Stream, method string) {
	handler := b.handlers.Duplex[method]
	if handler == nil {
		b.respondError(stream, fmt.Sprintf("no handler bound for %q", method))
		return
	}

	local, handlerErr := handler(b.ctx)
	if handlerErr != nil {
		b.respondError(stream, handlerErr.Error())
		return
	}

	var response callResponse
	response.Code = responseOk
	if err := cboring.Marshal(&response, stream); err != nil {
		b.logger().WithError(err).WithField("method", method).Debug("Acknowledging duplex call errored")
		_ = stream.Close()
		_ = local.Close()
		return
	}

	splice(stream, local)
}

// respond writes a single response frame and closes the stream.
func (b *Binding) respond(stream *yamux.Stream, response *callResponse) {
	if err := cboring.Marshal(response, stream); err != nil {
		b.logger().WithError(err).Debug("Sending response errored")
	}
}

// respondError writes an error response frame and closes the stream.
func (b *Binding) respondError(stream *yamux.Stream, reason string) {
	defer func() { _ = stream.Close() }()

	b.respond(stream, newErrorResponse(reason))
}

// splice forwards bytes between two duplex streams, propagating each
// direction's end separately where half-close is supported. Both streams are
// closed after both directions ended.
func splice(a, b io.ReadWriteCloser) {
	var wg sync.WaitGroup
	wg.Add(2)

	forward := func(dst, src io.ReadWriteCloser) {
		defer wg.Done()

		_, _ = io.Copy(dst, src)

		if cw, ok := dst.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		} else {
			_ = dst.Close()
		}
	}

	go forward(a, b)
	forward(b, a)

	wg.Wait()

	_ = a.Close()
	_ = b.Close()
}
