// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery announces this device on the local network and finds
// other devices to establish sessions with, through UDP multicast packets.
package discovery

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Announcement of one device's session endpoint.
type Announcement struct {
	DeviceName string
	DeviceType string
	Port       uint
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("Announcement(%s,%s,%d)",
		announcement.DeviceName, announcement.DeviceType, announcement.Port)
}

// MarshalCbor writes a CBOR array of three elements: name, type, port.
func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(announcement.DeviceName, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(announcement.DeviceType, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(announcement.Port), w); err != nil {
		return err
	}

	return nil
}

// UnmarshalCbor reads a CBOR array back to an Announcement.
func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 3 {
		return fmt.Errorf("Announcement expected array of length 3, got %d", n)
	}

	var err error
	if announcement.DeviceName, err = cboring.ReadTextString(r); err != nil {
		return err
	}
	if announcement.DeviceType, err = cboring.ReadTextString(r); err != nil {
		return err
	}

	if port, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		announcement.Port = uint(port)
	}

	return nil
}

// MarshalAnnouncements into a CBOR byte string for a multicast payload.
func MarshalAnnouncements(announcements []Announcement) ([]byte, error) {
	buff := new(bytes.Buffer)

	if err := cboring.WriteArrayLength(uint64(len(announcements)), buff); err != nil {
		return nil, err
	}

	for i := range announcements {
		announcement := announcements[i]
		if err := cboring.Marshal(&announcement, buff); err != nil {
			return nil, fmt.Errorf("marshalling Announcement %d (%v) failed: %w", i, announcement, err)
		}
	}

	return buff.Bytes(), nil
}

// UnmarshalAnnouncements creates an array of Announcements from a multicast
// payload.
func UnmarshalAnnouncements(data []byte) ([]Announcement, error) {
	buff := bytes.NewBuffer(data)

	l, err := cboring.ReadArrayLength(buff)
	if err != nil {
		return nil, err
	}

	announcements := make([]Announcement, l)
	for i := 0; i < len(announcements); i++ {
		if err := cboring.Unmarshal(&announcements[i], buff); err != nil {
			return nil, fmt.Errorf("unmarshalling Announcement %d failed: %w", i, err)
		}
	}

	return announcements, nil
}
