package device

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultConnectTimeout bounds a handshake when Options.ConnectTimeout is zero.
const DefaultConnectTimeout = 10 * time.Second

// Options configures a Manager.
type Options struct {
	// Peer names the peer kind in errors and logs (e.g. "printer").
	Peer string

	ConnectTimeout time.Duration

	// Clock defaults to RealClock.
	Clock Clock

	// Logger defaults to stderr with a "[peer] " prefix.
	Logger *log.Logger
}

// Manager owns the connection to a single peer. All methods are safe for
// concurrent use.
type Manager[L Link] struct {
	driver  Driver[L]
	peer    string
	timeout time.Duration
	clock   Clock
	logger  *log.Logger

	mu      sync.Mutex
	gen     uint64
	pending *attempt[L]
	session *session[L]
	closed  bool
	watch   *Watch[Status]

	// cmdMu serializes commands on the session.
	cmdMu sync.Mutex
}

// NewManager creates a Manager for driver. The manager starts Disconnected.
func NewManager[L Link](driver Driver[L], opts Options) *Manager[L] {
	if opts.Peer == "" {
		opts.Peer = driver.Name()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Clock == nil {
		opts.Clock = NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "["+opts.Peer+"] ", log.LstdFlags)
	}
	return &Manager[L]{
		driver:  driver,
		peer:    opts.Peer,
		timeout: opts.ConnectTimeout,
		clock:   opts.Clock,
		logger:  opts.Logger,
		watch:   NewWatch(Status{State: StateDisconnected}),
	}
}

// attempt is one outstanding handshake. The first call to finish decides its
// result; the link it opened is either taken by a session or released.
type attempt[L Link] struct {
	gen     uint64
	address string
	done    chan error
	once    sync.Once

	mu       sync.Mutex
	link     L
	hasLink  bool
	released bool
	dropped  bool
}

func newAttempt[L Link](gen uint64, address string) *attempt[L] {
	return &attempt[L]{
		gen:     gen,
		address: address,
		done:    make(chan error, 1),
	}
}

func (a *attempt[L]) finish(err error) {
	a.once.Do(func() {
		a.done <- err
	})
}

// attach stores the link returned by Open. It reports false if the attempt
// was already abandoned, in which case the caller must close the link.
func (a *attempt[L]) attach(link L) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return false
	}
	a.link = link
	a.hasLink = true
	return true
}

// take transfers ownership of the link to the caller.
func (a *attempt[L]) take() (L, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var zero L
	if a.released || !a.hasLink || a.dropped {
		return zero, false
	}
	a.released = true
	link := a.link
	a.link = zero
	return link, true
}

func (a *attempt[L]) markDropped() {
	a.mu.Lock()
	a.dropped = true
	a.mu.Unlock()
}

// release closes the partial link, if any. Safe to call more than once.
func (a *attempt[L]) release(logger *log.Logger) {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return
	}
	a.released = true
	link, has := a.link, a.hasLink
	var zero L
	a.link = zero
	a.mu.Unlock()

	if has {
		closeLink(logger, link)
	}
}

type session[L Link] struct {
	gen     uint64
	address string
	link    L
	once    sync.Once
}

func (s *session[L]) release(logger *log.Logger) {
	s.once.Do(func() {
		closeLink(logger, s.link)
	})
}

func closeLink[L Link](logger *log.Logger, link L) {
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("Panic while closing link: %v", r)
		}
	}()
	if err := link.Close(); err != nil {
		logger.Printf("Error closing link: %v", err)
	}
}

// Connect starts a handshake with the peer at address and waits for it to
// resolve. It supersedes any outstanding attempt and releases any previous
// session first. The manager is Connecting when the handshake starts and ends
// either Connected (nil error) or Disconnected (*DeviceError).
func (m *Manager[L]) Connect(ctx context.Context, address string) error {
	const op = "Connect"

	address = strings.TrimSpace(address)
	if address == "" {
		return WrapError(ErrCodeHandshakeFailed, op, m.peer, "invalid address", ErrAddressRequired)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return newError(ErrCodeSdkNotReady, op, m.peer, "manager closed", nil)
	}
	m.gen++
	att := newAttempt[L](m.gen, address)
	prevAttempt, prevSession := m.pending, m.session
	m.pending = att
	m.session = nil
	m.watch.Set(Status{State: StateConnecting, Address: address})
	m.mu.Unlock()

	if prevAttempt != nil {
		m.logger.Printf("Superseding connect attempt to %s", prevAttempt.address)
		prevAttempt.finish(newError(ErrCodeInterrupted, op, m.peer, "superseded by a newer connect", nil))
		prevAttempt.release(m.logger)
	}
	if prevSession != nil {
		m.logger.Printf("Releasing session with %s before reconnecting", prevSession.address)
		prevSession.release(m.logger)
	}

	m.logger.Printf("Connecting to %s via %s", address, m.driver.Name())

	if err := m.ready(); err != nil {
		return m.settle(att, WrapError(ErrCodeSdkNotReady, op, m.peer, "transport not ready", err))
	}

	link, err := m.open(att)
	if err != nil {
		att.finish(WrapError(ErrCodeHandshakeFailed, op, m.peer, "open failed", err))
		return m.settle(att, <-att.done)
	}
	if !att.attach(link) {
		closeLink(m.logger, link)
	}

	timer := m.clock.NewTimer(m.timeout)
	defer timer.Stop()

	var result error
	select {
	case result = <-att.done:
	case <-timer.C():
		att.finish(NewTimeoutError(op, m.peer, fmt.Sprintf("no handshake response within %s", m.timeout)))
		result = <-att.done
	case <-ctx.Done():
		att.finish(WrapError(ErrCodeInterrupted, op, m.peer, "connect cancelled", ctx.Err()))
		result = <-att.done
	}
	return m.settle(att, result)
}

// settle applies the result of att to the manager state.
func (m *Manager[L]) settle(att *attempt[L], result error) error {
	m.mu.Lock()
	current := m.pending == att
	if current {
		m.pending = nil
	}
	switch {
	case result == nil && current:
		if link, ok := att.take(); ok {
			m.session = &session[L]{gen: att.gen, address: att.address, link: link}
			m.watch.Set(Status{State: StateConnected, Address: att.address})
			m.mu.Unlock()
			m.logger.Printf("Connected to %s", att.address)
			return nil
		}
		result = newError(ErrCodeInterrupted, "Connect", m.peer, "connection dropped during handshake", nil)
	case result == nil:
		// Superseded after the peer accepted but before the session was installed.
		result = newError(ErrCodeInterrupted, "Connect", m.peer, "superseded by a newer connect", nil)
	}
	if current {
		m.watch.Set(Status{State: StateDisconnected, Address: att.address, Reason: Reason(result)})
	}
	m.mu.Unlock()

	att.release(m.logger)
	m.logger.Printf("Connect to %s failed: %v", att.address, result)
	return result
}

func (m *Manager[L]) ready() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("driver panic: %v", r)
		}
	}()
	return m.driver.Ready()
}

func (m *Manager[L]) open(att *attempt[L]) (link L, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("driver panic: %v", r)
		}
	}()
	return m.driver.Open(att.address, func(code int, message string) {
		m.handleStatus(att, code, message)
	})
}

func (m *Manager[L]) classify(code int) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("Panic classifying status %d: %v", code, r)
			outcome = OutcomeFailure
		}
	}()
	return m.driver.Classify(code)
}

// handleStatus routes a driver report to the attempt or session it belongs
// to. Reports for anything no longer current are discarded.
func (m *Manager[L]) handleStatus(att *attempt[L], code int, message string) {
	outcome := m.classify(code)
	if outcome == OutcomeIgnore {
		return
	}

	m.mu.Lock()
	if m.pending == att {
		m.mu.Unlock()
		if err := m.outcomeError(outcome, code, message); err != nil {
			att.markDropped()
			att.finish(err)
		} else {
			att.finish(nil)
		}
		return
	}

	s := m.session
	if s != nil && s.gen == att.gen && outcome != OutcomeSuccess {
		m.session = nil
		reason := fmt.Sprintf("peer dropped (%s)", describeStatus(code, message))
		m.watch.Set(Status{State: StateDisconnected, Address: s.address, Reason: reason})
		m.mu.Unlock()
		m.logger.Printf("Lost connection to %s: %s", s.address, reason)
		s.release(m.logger)
		return
	}
	m.mu.Unlock()
	m.logger.Printf("Discarding stale status %d from attempt to %s", code, att.address)
}

func (m *Manager[L]) outcomeError(outcome Outcome, code int, message string) error {
	const op = "Connect"
	detail := describeStatus(code, message)
	switch outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeInterrupted:
		return newError(ErrCodeInterrupted, op, m.peer, "handshake interrupted: "+detail, nil)
	case OutcomeBusy:
		return newError(ErrCodePeerBusy, op, m.peer, "peer busy: "+detail, nil)
	default:
		return newError(ErrCodeHandshakeFailed, op, m.peer, "handshake failed: "+detail, nil)
	}
}

func describeStatus(code int, message string) string {
	if message == "" {
		return fmt.Sprintf("status %d", code)
	}
	return fmt.Sprintf("status %d: %s", code, message)
}

// Disconnect releases the session and cancels any outstanding attempt. It is
// idempotent and never fails.
func (m *Manager[L]) Disconnect() {
	m.mu.Lock()
	att, s := m.pending, m.session
	m.pending = nil
	m.session = nil
	prev := m.watch.Get()
	if prev.State != StateDisconnected {
		m.watch.Set(Status{State: StateDisconnected, Address: prev.Address, Reason: "disconnected"})
	}
	m.mu.Unlock()

	if att != nil {
		att.finish(newError(ErrCodeInterrupted, "Connect", m.peer, "disconnect requested", nil))
		att.release(m.logger)
	}
	if s != nil {
		s.release(m.logger)
		m.logger.Printf("Disconnected from %s", s.address)
	}
}

// Do runs fn against the live session. It fails immediately with
// NotConnected unless the manager is Connected. Errors from fn are returned
// unchanged unless the session was lost during the call, in which case the
// result is ConnectionLost.
func (m *Manager[L]) Do(ctx context.Context, op string, fn func(context.Context, L) error) error {
	s := m.currentSession()
	if s == nil {
		return NewNotConnectedError(op, m.peer)
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	if m.currentSession() != s {
		return NewNotConnectedError(op, m.peer)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := m.invoke(ctx, op, s, fn)
	if err == nil {
		return nil
	}
	if m.currentSession() != s {
		return NewConnectionLostError(op, m.peer, err)
	}
	return err
}

func (m *Manager[L]) invoke(ctx context.Context, op string, s *session[L], fn func(context.Context, L) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("Panic during %s: %v", op, r)
			err = WrapError(ErrCodeCommandFailed, op, m.peer, "driver panic", fmt.Errorf("%v", r))
		}
	}()
	return fn(ctx, s.link)
}

func (m *Manager[L]) currentSession() *session[L] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Status returns the current connection status.
func (m *Manager[L]) Status() Status {
	return m.watch.Get()
}

// State returns the current connection state.
func (m *Manager[L]) State() ConnectionState {
	return m.watch.Get().State
}

// Peer returns the peer kind this manager serves.
func (m *Manager[L]) Peer() string {
	return m.peer
}

// Driver returns the underlying driver.
func (m *Manager[L]) Driver() Driver[L] {
	return m.driver
}

// Subscribe yields the current status and then every change, until ctx is
// done or the manager is closed.
func (m *Manager[L]) Subscribe(ctx context.Context) <-chan Status {
	return m.watch.Subscribe(ctx)
}

// Close disconnects and ends all subscriptions. Later Connect calls fail.
func (m *Manager[L]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
	m.watch.Close()
}
