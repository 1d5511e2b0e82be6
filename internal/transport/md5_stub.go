//go:build !linux

package transport

import (
	"errors"
	"net/netip"
)

// errUnsupported indicates a socket option only implemented on Linux.
var errUnsupported = errors.New("unsupported on this platform")

func setTCPMD5(int, netip.Addr, string) error { return errUnsupported }

func setTTL(int, netip.Addr, int) error { return errUnsupported }

func setMinTTL(int, netip.Addr, int) error { return errUnsupported }
