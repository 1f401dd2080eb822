// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package muxrpc

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// callHeader opens every call stream: a CBOR array of the method name and the
// CallKind the opener believes the method has. The responder validates both
// against its own manifest before dispatching.
type callHeader struct {
	Method string
	Kind   CallKind
}

func (ch callHeader) String() string {
	return fmt.Sprintf("CallHeader(%s,%v)", ch.Method, ch.Kind)
}

// MarshalCbor writes a CBOR array of two elements: method name, call kind.
func (ch *callHeader) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(ch.Method, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(ch.Kind), w); err != nil {
		return err
	}

	return nil
}

// UnmarshalCbor reads a CBOR array back to a callHeader.
func (ch *callHeader) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("callHeader expected array of length 2, got %d", n)
	}

	if method, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		ch.Method = method
	}

	if kind, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if kindErr := CallKind(kind).CheckValid(); kindErr != nil {
		return kindErr
	} else {
		ch.Kind = CallKind(kind)
	}

	return nil
}

const (
	// responseOk marks a successful response frame, followed by a payload.
	responseOk uint64 = 0

	// responseError marks a failed response frame, followed by a reason.
	responseError uint64 = 1
)

// callResponse answers a call header: a CBOR array of a response code and,
// depending on the code, the response payload or the failure reason. For a
// duplex call, this frame precedes the raw byte channel, so an erroring
// duplex call fails before any channel bytes are exchanged.
type callResponse struct {
	Code    uint64
	Payload []byte
	Reason  string
}

func newOkResponse(payload []byte) *callResponse {
	return &callResponse{Code: responseOk, Payload: payload}
}

func newErrorResponse(reason string) *callResponse {
	return &callResponse{Code: responseError, Reason: reason}
}

func (cr callResponse) String() string {
	if cr.Code == responseOk {
		return fmt.Sprintf("CallResponse(ok,%d bytes)", len(cr.Payload))
	}
	return fmt.Sprintf("CallResponse(error,%s)", cr.Reason)
}

// MarshalCbor writes a CBOR array of two elements: code, then payload byte
// string or reason text string.
func (cr *callResponse) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(cr.Code, w); err != nil {
		return err
	}

	if cr.Code == responseOk {
		return cboring.WriteByteString(cr.Payload, w)
	}
	return cboring.WriteTextString(cr.Reason, w)
}

// UnmarshalCbor reads a CBOR array back to a callResponse.
func (cr *callResponse) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("callResponse expected array of length 2, got %d", n)
	}

	if code, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		cr.Code = code
	}

	switch cr.Code {
	case responseOk:
		if payload, err := cboring.ReadByteString(r); err != nil {
			return err
		} else {
			cr.Payload = payload
		}

	case responseError:
		if reason, err := cboring.ReadTextString(r); err != nil {
			return err
		} else {
			cr.Reason = reason
		}

	default:
		return fmt.Errorf("callResponse code %d is undefined", cr.Code)
	}

	return nil
}
