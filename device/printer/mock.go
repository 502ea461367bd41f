package printer

import (
	"context"
	"sync"

	"github.com/dotside-studios/warehouse-agent/device"
)

// MockLink is an in-memory printer session that records jobs.
type MockLink struct {
	*device.MockLink

	// WriteErr, if set, is returned by Write()
	WriteErr error

	mu   sync.Mutex
	jobs [][]byte
}

// NewMockLink creates a MockLink for address.
func NewMockLink(address string) *MockLink {
	return &MockLink{MockLink: device.NewMockLink(address)}
}

func (l *MockLink) Write(ctx context.Context, job []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.WriteErr != nil {
		return l.WriteErr
	}
	l.jobs = append(l.jobs, append([]byte(nil), job...))
	return nil
}

// Jobs returns every job written so far.
func (l *MockLink) Jobs() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.jobs...)
}

// NewMockDriver returns a mock driver producing printer links.
func NewMockDriver() *device.MockDriver[Link] {
	return device.NewMockDriver(func(address string) Link {
		return NewMockLink(address)
	})
}
