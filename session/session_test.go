// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/syncpeer/syncpeer-go/muxrpc"
)

// testSplice connects two Stream Handles, standing in for a network socket.
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

// testSessionPair connects two Sessions and returns per-side channels
// receiving the onClose error exactly once.
func testSessionPair(t *testing.T, a, b *Session) (aClosed, bClosed chan error) {
	aClosed = make(chan error, 1)
	bClosed = make(chan error, 1)

	aStream, aErr := a.CreateStream(func(err error) { aClosed <- err })
	if aErr != nil {
		t.Fatal(aErr)
	}

	bStream, bErr := b.CreateStream(func(err error) { bClosed <- err })
	if bErr != nil {
		t.Fatal(bErr)
	}

	testSplice(t, aStream, bStream)

	t.Cleanup(func() {
		a.Close(nil, nil)
		b.Close(nil, nil)
	})

	return
}

func testDeviceSession(t *testing.T, name string, options Options) *Session {
	options.DeviceName = name
	if options.DeviceType == "" {
		options.DeviceType = "desktop"
	}

	s, err := NewDeviceSession(options)
	if err != nil {
		t.Fatal(err)
	}

	return s
}

func TestDeviceSessionMissingIdentity(t *testing.T) {
	if _, err := NewDeviceSession(Options{DeviceName: "alice-laptop"}); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
	if _, err := NewDeviceSession(Options{DeviceType: "desktop"}); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
}

func TestSessionCreateStreamTwice(t *testing.T) {
	a := testDeviceSession(t, "alice-laptop", Options{Timeout: time.Second, Initiator: true})
	b := testDeviceSession(t, "bob-phone", Options{Timeout: time.Second, DeviceType: "mobile"})

	testSessionPair(t, a, b)

	if _, err := a.CreateStream(nil); !errors.Is(err, ErrAlreadyStreaming) {
		t.Fatalf("expected ErrAlreadyStreaming, got %v", err)
	}

	// The first Stream Handle is unaffected by the rejected second call.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := a.RemoteInfo(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestSessionHealthyExchange(t *testing.T) {
	a := testDeviceSession(t, "alice-laptop", Options{Timeout: 100 * time.Millisecond, Initiator: true})
	b := testDeviceSession(t, "bob-phone", Options{Timeout: 100 * time.Millisecond, DeviceType: "mobile"})

	aClosed, bClosed := testSessionPair(t, a, b)

	// Both sides answer heartbeats; the pair must outlive many timeouts.
	select {
	case err := <-aClosed:
		t.Fatalf("session a closed spontaneously: %v", err)
	case err := <-bClosed:
		t.Fatalf("session b closed spontaneously: %v", err)
	case <-time.After(400 * time.Millisecond):
	}

	// A clean close on one side surfaces without error on the other.
	closed := make(chan error, 1)
	a.Close(nil, func(err error) { closed <- err })

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close callback got error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close callback was not invoked")
	}

	select {
	case err := <-bClosed:
		if err != nil {
			t.Fatalf("peer of a cleanly closed session got error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("peer session did not notice the close")
	}
}

func TestSessionRemoteTimeout(t *testing.T) {
	const timeout = 200 * time.Millisecond

	b := testDeviceSession(t, "bob-phone", Options{Timeout: timeout, DeviceType: "mobile", Initiator: true})

	// The fake peer binds the manifest but never answers a heartbeat.
	silent, err := muxrpc.NewBinding(
		muxrpc.Manifest{MethodGetInfo: muxrpc.KindRequest, MethodHeartbeat: muxrpc.KindRequest},
		muxrpc.Handlers{
			Request: map[string]muxrpc.RequestHandler{
				MethodHeartbeat: func(ctx context.Context, _ []byte) ([]byte, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				},
			},
		},
		muxrpc.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = silent.Close(nil) })

	silentStream, err := silent.CreateStream()
	if err != nil {
		t.Fatal(err)
	}

	bClosed := make(chan error, 1)
	bStream, err := b.CreateStream(func(err error) { bClosed <- err })
	if err != nil {
		t.Fatal(err)
	}

	testSplice(t, silentStream, bStream)

	start := time.Now()
	select {
	case closeErr := <-bClosed:
		if !errors.Is(closeErr, ErrRemoteTimeout) {
			t.Fatalf("expected ErrRemoteTimeout, got %v", closeErr)
		}
		if !strings.Contains(closeErr.Error(), "remote timeout") {
			t.Fatalf("error %q does not mention the remote timeout", closeErr.Error())
		}
		if elapsed := time.Since(start); elapsed > 2*timeout+100*time.Millisecond {
			t.Fatalf("session closed after %v, way past the timeout", elapsed)
		}

	case <-time.After(time.Second):
		t.Fatal("session did not close on a silent peer")
	}
}

func TestSessionCloseWithoutStream(t *testing.T) {
	s := NewKeepaliveSession(Options{})

	var invocations int32
	closed := make(chan error, 2)
	callback := func(err error) {
		atomic.AddInt32(&invocations, 1)
		closed <- err
	}

	s.Close(nil, callback)
	s.Close(errors.New("ignored on a streamless session"), callback)

	for i := 0; i < 2; i++ {
		select {
		case err := <-closed:
			if err != nil {
				t.Fatalf("close callback got error %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("close callback was not invoked")
		}
	}

	if n := atomic.LoadInt32(&invocations); n != 2 {
		t.Fatalf("expected 2 callback invocations, got %d", n)
	}
}

func TestSessionCloseActive(t *testing.T) {
	a := testDeviceSession(t, "alice-laptop", Options{Timeout: 100 * time.Millisecond, Initiator: true})
	b := testDeviceSession(t, "bob-phone", Options{Timeout: 100 * time.Millisecond, DeviceType: "mobile"})

	aClosed, _ := testSessionPair(t, a, b)

	reason := errors.New("going away")
	closed := make(chan error, 1)
	a.Close(reason, func(err error) { closed <- err })

	select {
	case err := <-closed:
		if !errors.Is(err, reason) {
			t.Fatalf("close callback got %v instead of the close reason", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close callback was not invoked")
	}

	select {
	case err := <-aClosed:
		if !errors.Is(err, reason) {
			t.Fatalf("onClose got %v instead of the close reason", err)
		}
	case <-time.After(time.Second):
		t.Fatal("onClose was not invoked")
	}

	// No watchdog may fire after the close; a use-after-close would close
	// the peer or panic within the following grace period.
	time.Sleep(300 * time.Millisecond)

	if _, err := a.CreateStream(nil); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSessionGetInfo(t *testing.T) {
	a := testDeviceSession(t, "alice-laptop", Options{Timeout: time.Second, Initiator: true})
	b := testDeviceSession(t, "bob-phone", Options{Timeout: time.Second, DeviceType: "mobile"})

	testSessionPair(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	bInfo, err := a.RemoteInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bInfo != (PeerInfo{ProtocolVersion: DeviceProtocolVersion, DeviceName: "bob-phone", DeviceType: "mobile"}) {
		t.Fatalf("unexpected peer info %v", bInfo)
	}

	aInfo, err := b.RemoteInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if aInfo != a.Info() {
		t.Fatalf("peer infos differ: %v, %v", aInfo, a.Info())
	}
}

func TestKeepaliveSessionGetInfo(t *testing.T) {
	a := NewKeepaliveSession(Options{Timeout: time.Second, Initiator: true})
	b := NewKeepaliveSession(Options{Timeout: time.Second})

	testSessionPair(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	info, err := a.RemoteInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info != (PeerInfo{ProtocolVersion: KeepaliveProtocolVersion}) {
		t.Fatalf("unexpected peer info %v", info)
	}

	// The minimal variant knows no sync channels at all.
	if _, err := a.SyncMultifeed(ctx); err == nil {
		t.Fatal("opening a sync channel on a keepalive session did not error")
	}
}

func TestSessionSyncNotImplemented(t *testing.T) {
	a := testDeviceSession(t, "alice-laptop", Options{Timeout: time.Second, Initiator: true})
	b := testDeviceSession(t, "bob-phone", Options{Timeout: time.Second, DeviceType: "mobile"})

	testSessionPair(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, open := range []func(context.Context) (io.ReadWriteCloser, error){
		a.SyncMultifeed, a.SyncMediaBlobs, b.SyncMultifeed, b.SyncMediaBlobs,
	} {
		start := time.Now()
		_, err := open(ctx)
		if err == nil {
			t.Fatal("sync channel without an engine did not error")
		}
		if !strings.Contains(err.Error(), "not implemented") {
			t.Fatalf("error %q does not mention the missing implementation", err.Error())
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Fatalf("sync channel error took %v instead of failing immediately", elapsed)
		}
	}
}

func TestSessionSyncChannel(t *testing.T) {
	echoSource := func(_ context.Context) (io.ReadWriteCloser, error) {
		left, right := net.Pipe()
		go func() { _, _ = io.Copy(right, right) }()
		return left, nil
	}

	a := testDeviceSession(t, "alice-laptop", Options{Timeout: time.Second, Initiator: true})
	b := testDeviceSession(t, "bob-phone", Options{Timeout: time.Second, DeviceType: "mobile", Feeds: echoSource})

	testSessionPair(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	channel, err := a.SyncMultifeed(ctx)
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte("append-only log entries")
	if _, err := channel.Write(msg); err != nil {
		t.Fatal(err)
	}

	echo := make([]byte, len(msg))
	if _, err := io.ReadFull(channel, echo); err != nil {
		t.Fatal(err)
	}
	if string(echo) != string(msg) {
		t.Fatalf("echo differs: %q, %q", msg, echo)
	}

	// Closing the session severs the open channel.
	closed := make(chan error, 1)
	a.Close(nil, func(err error) { closed <- err })
	<-closed

	if dl, ok := channel.(interface{ SetReadDeadline(t time.Time) error }); ok {
		_ = dl.SetReadDeadline(time.Now().Add(time.Second))
	}
	if _, err := channel.Read(make([]byte, 1)); err == nil {
		t.Fatal("reading a severed sync channel did not error")
	}
}
