// SPDX-FileCopyrightText: 2026 The syncpeer-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"

	"github.com/syncpeer/syncpeer-go/discovery"
	"github.com/syncpeer/syncpeer-go/session"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Node      nodeConf
	Logging   logConf
	Discovery discoveryConf
	Listen    []endpointConf
	Peer      []endpointConf
}

// nodeConf describes the Node-configuration block.
type nodeConf struct {
	DeviceName string `toml:"device-name"`
	DeviceType string `toml:"device-type"`
	Timeout    uint
	Profiling  bool
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
}

// endpointConf describes one "listen" or "peer" block.
type endpointConf struct {
	Protocol string
	Endpoint string
}

func parseListenPort(endpoint string) (port int, err error) {
	var portStr string
	_, portStr, err = net.SplitHostPort(endpoint)
	if err != nil {
		return
	}
	port, err = strconv.Atoi(portStr)
	return
}

// configureLogging applies the Logging block to logrus.
func configureLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseNode creates the node based on the given TOML configuration.
func parseNode(filename string) (n *node, ds *discovery.Service, profiling bool, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	configureLogging(conf.Logging)

	if conf.Node.DeviceName == "" || conf.Node.DeviceType == "" {
		err = fmt.Errorf("node.device-name and node.device-type must be set")
		return
	}

	timeout := time.Duration(conf.Node.Timeout) * time.Second
	if conf.Node.Timeout == 0 {
		timeout = session.DefaultTimeout
	}

	profiling = conf.Node.Profiling

	n = newNode(conf.Node.DeviceName, conf.Node.DeviceType, timeout)

	var announcements []discovery.Announcement

	// Listen
	for _, listen := range conf.Listen {
		switch listen.Protocol {
		case "tcp":
			if err = n.listenTCP(listen.Endpoint); err != nil {
				return
			}

			port, portErr := parseListenPort(listen.Endpoint)
			if portErr != nil {
				err = portErr
				return
			}

			announcements = append(announcements, discovery.Announcement{
				DeviceName: conf.Node.DeviceName,
				DeviceType: conf.Node.DeviceType,
				Port:       uint(port),
			})

		case "ws":
			if err = n.listenWebSocket(listen.Endpoint); err != nil {
				return
			}

		default:
			err = fmt.Errorf("unknown listen.protocol %q", listen.Protocol)
			return
		}
	}

	// Peer
	for _, peer := range conf.Peer {
		if peer.Protocol != "" && peer.Protocol != "tcp" {
			log.WithFields(log.Fields{
				"peer":     peer.Endpoint,
				"protocol": peer.Protocol,
			}).Warn("Skipping peer with unknown protocol")
			continue
		}

		if dialErr := n.dial(peer.Endpoint); dialErr != nil {
			log.WithFields(log.Fields{
				"peer":  peer.Endpoint,
				"error": dialErr,
			}).Warn("Failed to establish a connection to a peer")
		}
	}

	// Discovery
	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		if conf.Discovery.Interval == 0 {
			conf.Discovery.Interval = 10
		}

		ds, err = discovery.NewService(
			announcements, n.handleDiscovered,
			conf.Discovery.IPv4, conf.Discovery.IPv6,
			time.Duration(conf.Discovery.Interval)*time.Second)
		if err != nil {
			return
		}
	}

	return
}
