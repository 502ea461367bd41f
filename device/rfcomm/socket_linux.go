//go:build linux

package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dotside-studios/warehouse-agent/device"
	"github.com/dotside-studios/warehouse-agent/device/printer"
)

const writeChunk = 512

func socketSupported() error {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return fmt.Errorf("rfcomm sockets unavailable: %w", err)
	}
	unix.Close(fd)
	return nil
}

// statusForErrno maps a connect or write error to a status code.
func statusForErrno(err error) int {
	switch {
	case errors.Is(err, unix.EBUSY), errors.Is(err, unix.EALREADY), errors.Is(err, unix.EINPROGRESS):
		return StatusBusy
	case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED), errors.Is(err, unix.ECONNRESET),
		errors.Is(err, unix.EPIPE), errors.Is(err, unix.ENOTCONN), errors.Is(err, unix.EBADF):
		return StatusDisconnected
	default:
		return StatusFailed
	}
}

type socketLink struct {
	fd       int
	onStatus device.StatusFunc
	logger   *log.Logger

	mu        sync.Mutex
	closed    bool
	connected bool
}

func dial(addr [6]uint8, channel uint8, onStatus device.StatusFunc, logger *log.Logger) (printer.Link, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("open rfcomm socket: %w", err)
	}
	l := &socketLink{fd: fd, onStatus: onStatus, logger: logger}
	sa := &unix.SockaddrRFCOMM{Addr: addr, Channel: channel}

	go func() {
		err := unix.Connect(fd, sa)
		if l.isClosed() {
			return
		}
		if err != nil {
			onStatus(statusForErrno(err), err.Error())
			return
		}
		l.mu.Lock()
		l.connected = true
		l.mu.Unlock()
		onStatus(StatusConnected, "")
		l.watch()
	}()
	return l, nil
}

func (l *socketLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// watch reads printer status bytes until the socket fails, which means the
// printer went away.
func (l *socketLink) watch() {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(l.fd, buf)
		if l.isClosed() {
			return
		}
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil || n == 0 {
			msg := "printer closed the connection"
			if err != nil {
				msg = err.Error()
			}
			l.onStatus(StatusDisconnected, msg)
			return
		}
		l.logger.Printf("Printer status: % x", buf[:n])
	}
}

func (l *socketLink) Write(ctx context.Context, job []byte) error {
	l.mu.Lock()
	ok := l.connected && !l.closed
	l.mu.Unlock()
	if !ok {
		return errors.New("rfcomm socket not connected")
	}

	for len(job) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := job
		if len(chunk) > writeChunk {
			chunk = chunk[:writeChunk]
		}
		n, err := unix.Write(l.fd, chunk)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if statusForErrno(err) == StatusDisconnected {
				l.onStatus(StatusDisconnected, err.Error())
			}
			return fmt.Errorf("write print job: %w", err)
		}
		job = job[n:]
	}
	return nil
}

func (l *socketLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	// Shutdown first so a blocked connect or read returns.
	_ = unix.Shutdown(l.fd, unix.SHUT_RDWR)
	return unix.Close(l.fd)
}
