// SPDX-License-Identifier: MIT

// Package netutil holds small address helpers shared by the ingest, relay
// and control layers.
package netutil

import (
	"net"
	"strconv"
	"strings"
)

// bindAllHost is the wildcard listen address. Surfaced URLs replace it with
// a loopback name so publishers and relay children can dial back locally.
const bindAllHost = "0.0.0.0"

// LoopbackHost is the name substituted for the wildcard address in any URL
// handed to humans or child processes.
const LoopbackHost = "localhost"

// RewriteBindAll replaces the wildcard host in a URL or host string with the
// loopback name. Non-wildcard hosts pass through untouched, including hosts
// the operator deliberately bound to a specific interface.
func RewriteBindAll(s string) string {
	if s == "" {
		return s
	}
	return strings.ReplaceAll(s, bindAllHost, LoopbackHost)
}

// JoinHostPort formats host and numeric port for dialing or display.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// SplitPort extracts the numeric port from a host:port string. Returns 0
// when no port is present.
func SplitPort(hostport string) int {
	_, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
