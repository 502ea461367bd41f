//go:build !linux

package rfcomm

import (
	"errors"
	"log"

	"github.com/dotside-studios/warehouse-agent/device"
	"github.com/dotside-studios/warehouse-agent/device/printer"
)

var errUnsupported = errors.New("rfcomm sockets are only supported on linux")

func socketSupported() error {
	return errUnsupported
}

func statusForErrno(err error) int {
	return StatusFailed
}

func dial(addr [6]uint8, channel uint8, onStatus device.StatusFunc, logger *log.Logger) (printer.Link, error) {
	return nil, errUnsupported
}
