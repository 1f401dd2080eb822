// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package muxrpc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// testSplice connects two Stream Handles, like piping both to one socket.
// Like a socket, one side closing tears the other side down.
func testSplice(t *testing.T, a, b net.Conn) {
	closeBoth := func() {
		_ = a.Close()
		_ = b.Close()
	}

	go func() {
		_, _ = io.Copy(a, b)
		closeBoth()
	}()
	go func() {
		_, _ = io.Copy(b, a)
		closeBoth()
	}()

	t.Cleanup(closeBoth)
}

// testBindingPair creates two connected Bindings, a as initiator.
func testBindingPair(t *testing.T, manifest Manifest, handlersA, handlersB Handlers) (a, b *Binding) {
	a, aErr := NewBinding(manifest, handlersA, Options{Initiator: true})
	if aErr != nil {
		t.Fatal(aErr)
	}

	b, bErr := NewBinding(manifest, handlersB, Options{})
	if bErr != nil {
		t.Fatal(bErr)
	}

	aStream, aStreamErr := a.CreateStream()
	if aStreamErr != nil {
		t.Fatal(aStreamErr)
	}

	bStream, bStreamErr := b.CreateStream()
	if bStreamErr != nil {
		t.Fatal(bStreamErr)
	}

	testSplice(t, aStream, bStream)

	t.Cleanup(func() {
		_ = a.Close(nil)
		_ = b.Close(nil)
	})

	return
}

func testWaitDone(t *testing.T, b *Binding) {
	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("Binding did not close down in time")
	}
}

func TestBindingRequestResponse(t *testing.T) {
	manifest := Manifest{"Echo": KindRequest}
	handlers := Handlers{
		Request: map[string]RequestHandler{
			"Echo": func(_ context.Context, payload []byte) ([]byte, error) {
				return payload, nil
			},
		},
	}

	a, _ := testBindingPair(t, manifest, Handlers{}, handlers)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	payload := []byte("ping towards the peer")
	response, err := a.Call(ctx, "Echo", payload)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(payload, response) {
		t.Fatalf("response differs: %x, %x", payload, response)
	}
}

func TestBindingHandlerError(t *testing.T) {
	manifest := Manifest{"Fail": KindRequest}
	handlers := Handlers{
		Request: map[string]RequestHandler{
			"Fail": func(_ context.Context, _ []byte) ([]byte, error) {
				return nil, errors.New("no can do")
			},
		},
	}

	a, _ := testBindingPair(t, manifest, Handlers{}, handlers)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := a.Call(ctx, "Fail", nil)

	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected a CallError, got %v (%T)", err, err)
	}
	if callErr.Reason != "no can do" {
		t.Fatalf("unexpected reason %q", callErr.Reason)
	}
}

func TestBindingUnknownMethod(t *testing.T) {
	// The manifests disagree: a knows Extra, b does not.
	a, aErr := NewBinding(Manifest{"Extra": KindRequest}, Handlers{}, Options{Initiator: true})
	if aErr != nil {
		t.Fatal(aErr)
	}
	b, bErr := NewBinding(Manifest{}, Handlers{}, Options{})
	if bErr != nil {
		t.Fatal(bErr)
	}

	aStream, _ := a.CreateStream()
	bStream, _ := b.CreateStream()
	testSplice(t, aStream, bStream)

	t.Cleanup(func() {
		_ = a.Close(nil)
		_ = b.Close(nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := a.Call(ctx, "Extra", nil); err == nil {
		t.Fatal("calling a method unknown to the peer did not error")
	}

	// And a method unknown to the caller itself fails locally.
	if _, err := a.Call(ctx, "Nope", nil); err == nil {
		t.Fatal("calling a method outside the own manifest did not error")
	}
}

func TestBindingDuplexEcho(t *testing.T) {
	manifest := Manifest{"Tunnel": KindDuplex}
	handlers := Handlers{
		Duplex: map[string]DuplexHandler{
			"Tunnel": func(_ context.Context) (io.ReadWriteCloser, error) {
				left, right := net.Pipe()
				go func() { _, _ = io.Copy(right, right) }()
				return left, nil
			},
		},
	}

	a, _ := testBindingPair(t, manifest, Handlers{}, handlers)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	channel, err := a.OpenDuplex(ctx, "Tunnel")
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte("mirror, mirror")
	if _, err := channel.Write(msg); err != nil {
		t.Fatal(err)
	}

	echo := make([]byte, len(msg))
	if _, err := io.ReadFull(channel, echo); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(msg, echo) {
		t.Fatalf("echo differs: %q, %q", msg, echo)
	}

	_ = channel.Close()
}

func TestBindingDuplexImmediateError(t *testing.T) {
	manifest := Manifest{"Tunnel": KindDuplex}
	handlers := Handlers{
		Duplex: map[string]DuplexHandler{
			"Tunnel": func(_ context.Context) (io.ReadWriteCloser, error) {
				return nil, errors.New("not implemented")
			},
		},
	}

	a, _ := testBindingPair(t, manifest, Handlers{}, handlers)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	_, err := a.OpenDuplex(ctx, "Tunnel")

	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected a CallError, got %v (%T)", err, err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("duplex call error took %v instead of failing immediately", elapsed)
	}
}

func TestBindingClose(t *testing.T) {
	manifest := Manifest{"Echo": KindRequest}

	a, b := testBindingPair(t, manifest, Handlers{}, Handlers{})

	if err := a.Close(nil); err != nil {
		t.Fatal(err)
	}

	testWaitDone(t, a)
	testWaitDone(t, b)

	if err := b.Err(); err != nil {
		t.Fatalf("peer of a cleanly closed Binding got error %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := a.Call(ctx, "Echo", nil); err == nil {
		t.Fatal("calling over a closed Binding did not error")
	}

	// Closing again is a no-op.
	_ = a.Close(errors.New("too late"))
	if err := a.Err(); err != nil {
		t.Fatalf("second Close overwrote the closing error: %v", err)
	}
}

func TestBindingCreateStreamTwice(t *testing.T) {
	b, err := NewBinding(Manifest{}, Handlers{}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.CreateStream(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.CreateStream(); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}

	_ = b.Close(nil)
}
