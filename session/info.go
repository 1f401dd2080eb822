// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

const (
	// KeepaliveProtocolVersion is exchanged by the minimal session variant.
	KeepaliveProtocolVersion = "1.0.0"

	// DeviceProtocolVersion is exchanged by the identifying session variant.
	DeviceProtocolVersion = "2.0.0"
)

// PeerInfo identifies one side of a session: its protocol version and, on
// the identifying variant, the device's name and type. The minimal variant
// omits the device fields.
type PeerInfo struct {
	ProtocolVersion string
	DeviceName      string
	DeviceType      string
}

func (pi PeerInfo) String() string {
	if pi.DeviceName == "" && pi.DeviceType == "" {
		return fmt.Sprintf("PeerInfo(%s)", pi.ProtocolVersion)
	}
	return fmt.Sprintf("PeerInfo(%s,%s,%s)", pi.ProtocolVersion, pi.DeviceName, pi.DeviceType)
}

// MarshalCbor writes a CBOR array of one element for a minimal PeerInfo, or
// of three elements for an identifying one.
func (pi *PeerInfo) MarshalCbor(w io.Writer) error {
	if pi.DeviceName == "" && pi.DeviceType == "" {
		if err := cboring.WriteArrayLength(1, w); err != nil {
			return err
		}
		return cboring.WriteTextString(pi.ProtocolVersion, w)
	}

	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	fields := []string{pi.ProtocolVersion, pi.DeviceName, pi.DeviceType}
	for _, field := range fields {
		if err := cboring.WriteTextString(field, w); err != nil {
			return err
		}
	}

	return nil
}

// UnmarshalCbor reads a CBOR array of one or three elements back to a
// PeerInfo.
func (pi *PeerInfo) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}

	switch n {
	case 1:
		pi.ProtocolVersion, err = cboring.ReadTextString(r)
		pi.DeviceName, pi.DeviceType = "", ""
		return err

	case 3:
		fields := []*string{&pi.ProtocolVersion, &pi.DeviceName, &pi.DeviceType}
		for _, field := range fields {
			if *field, err = cboring.ReadTextString(r); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("PeerInfo expected array of length 1 or 3, got %d", n)
	}
}

// marshalPeerInfo serializes a PeerInfo into a call payload.
func marshalPeerInfo(pi PeerInfo) ([]byte, error) {
	var buff bytes.Buffer
	if err := cboring.Marshal(&pi, &buff); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

// unmarshalPeerInfo parses a PeerInfo from a call payload.
func unmarshalPeerInfo(data []byte) (pi PeerInfo, err error) {
	err = cboring.Unmarshal(&pi, bytes.NewBuffer(data))
	return
}
