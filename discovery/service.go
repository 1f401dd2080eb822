// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/peerdiscovery"
	log "github.com/sirupsen/logrus"
)

const (
	// Address4 is the default multicast IPv4 address used for discovery.
	Address4 = "224.23.42.23"

	// Address6 is the default multicast IPv6 address used for discovery.
	Address6 = "ff02::23:42:23"

	// Port is the default multicast port used for discovery.
	Port = 35715
)

// NotifyFunc is called for every Announcement received from some address.
type NotifyFunc func(announcement Announcement, address string)

// Service publishes this device's Announcements to its local network while
// listening for other devices' ones.
type Service struct {
	notify NotifyFunc

	stopChan4 chan struct{}
	stopChan6 chan struct{}

	closeOnce sync.Once
}

// NewService starts announcing through IPv4 and/or IPv6 every interval and
// reports discovered peers to notify.
func NewService(announcements []Announcement, notify NotifyFunc, ipv4, ipv6 bool, interval time.Duration) (*Service, error) {
	log.WithFields(log.Fields{
		"ipv4":          ipv4,
		"ipv6":          ipv6,
		"interval":      interval,
		"announcements": announcements,
	}).Info("Started discovery service")

	service := &Service{notify: notify}

	if ipv4 {
		service.stopChan4 = make(chan struct{})
	}
	if ipv6 {
		service.stopChan6 = make(chan struct{})
	}

	payload, err := MarshalAnnouncements(announcements)
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active           bool
		multicastAddress string
		stopChan         chan struct{}
		ipVersion        peerdiscovery.IPVersion
		notify           func(discovered peerdiscovery.Discovered)
	}{
		{ipv4, Address4, service.stopChan4, peerdiscovery.IPv4, service.handleDiscovered},
		{ipv6, Address6, service.stopChan6, peerdiscovery.IPv6, service.handleDiscovered6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}

		settings := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", Port),
			MulticastAddress: set.multicastAddress,
			Payload:          payload,
			Delay:            interval,
			TimeLimit:        -1,
			StopChan:         set.stopChan,
			AllowSelf:        true,
			IPVersion:        set.ipVersion,
			Notify:           set.notify,
		}

		go func() { _, _ = peerdiscovery.Discover(settings) }()
	}

	return service, nil
}

// handleDiscovered6 wraps an IPv6 address in brackets before dispatching.
func (service *Service) handleDiscovered6(discovered peerdiscovery.Discovered) {
	discovered.Address = fmt.Sprintf("[%s]", discovered.Address)

	service.handleDiscovered(discovered)
}

func (service *Service) handleDiscovered(discovered peerdiscovery.Discovered) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		log.WithFields(log.Fields{
			"peer":  discovered.Address,
			"error": err,
		}).Warn("Discovery failed to parse an incoming package")

		return
	}

	for _, announcement := range announcements {
		log.WithFields(log.Fields{
			"peer":         discovered.Address,
			"announcement": announcement,
		}).Debug("Discovery received an announcement")

		go service.notify(announcement, discovered.Address)
	}
}

// Close the Service down. Idempotent.
func (service *Service) Close() {
	service.closeOnce.Do(func() {
		if service.stopChan4 != nil {
			close(service.stopChan4)
		}
		if service.stopChan6 != nil {
			close(service.stopChan6)
		}
	})
}
