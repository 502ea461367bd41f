package bluez

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/dotside-studios/warehouse-agent/device"
	"github.com/dotside-studios/warehouse-agent/device/scanner"
)

// Status codes reported by the BlueZ drivers.
const (
	StatusConnected = iota
	StatusFailed
	StatusDisconnected
	StatusInProgress
	StatusAlreadyConnected
	StatusResolving
)

// Default GATT characteristics of the scanner's transparent UART service.
const (
	DefaultNotifyUUID = "0000fff1-0000-1000-8000-00805f9b34fb"
	DefaultWriteUUID  = "0000fff2-0000-1000-8000-00805f9b34fb"
)

const commandTimeout = 5 * time.Second

// ScannerConfig selects the GATT characteristics used by ScannerDriver.
type ScannerConfig struct {
	NotifyUUID string
	WriteUUID  string
	Logger     *log.Logger
}

// ScannerDriver connects BLE barcode scanners through BlueZ.
type ScannerDriver struct {
	bus    *Bus
	cfg    ScannerConfig
	logger *log.Logger

	mu      sync.Mutex
	handler scanner.ScanHandler
}

var _ scanner.Driver = (*ScannerDriver)(nil)

// NewScannerDriver creates a scanner driver on bus.
func NewScannerDriver(bus *Bus, cfg ScannerConfig) *ScannerDriver {
	if cfg.NotifyUUID == "" {
		cfg.NotifyUUID = DefaultNotifyUUID
	}
	if cfg.WriteUUID == "" {
		cfg.WriteUUID = DefaultWriteUUID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = bus.logger
	}
	return &ScannerDriver{bus: bus, cfg: cfg, logger: logger}
}

func (d *ScannerDriver) Name() string {
	return "bluez"
}

func (d *ScannerDriver) Ready() error {
	return d.bus.Ready()
}

func (d *ScannerDriver) ListDevices() ([]device.DeviceInfo, error) {
	return d.bus.ListDevices()
}

func (d *ScannerDriver) HandleScans(h scanner.ScanHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

func (d *ScannerDriver) emit(address, data string) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if h != nil {
		h(address, data)
	}
}

func (d *ScannerDriver) Classify(code int) device.Outcome {
	return classify(code)
}

func classify(code int) device.Outcome {
	switch code {
	case StatusConnected, StatusAlreadyConnected:
		return device.OutcomeSuccess
	case StatusDisconnected:
		return device.OutcomeInterrupted
	case StatusInProgress:
		return device.OutcomeBusy
	case StatusResolving:
		return device.OutcomeIgnore
	default:
		return device.OutcomeFailure
	}
}

// statusForError maps a BlueZ error reply to a status code.
func statusForError(err error) int {
	var name string
	var dbusErr dbus.Error
	var dbusErrPtr *dbus.Error
	switch {
	case errors.As(err, &dbusErr):
		name = dbusErr.Name
	case errors.As(err, &dbusErrPtr):
		name = dbusErrPtr.Name
	}
	switch name {
	case "org.bluez.Error.InProgress":
		return StatusInProgress
	case "org.bluez.Error.AlreadyConnected":
		return StatusAlreadyConnected
	case "org.bluez.Error.Canceled", "org.bluez.Error.AuthenticationCanceled", "org.bluez.Error.NotConnected":
		return StatusDisconnected
	default:
		return StatusFailed
	}
}

// Open starts Device1.Connect asynchronously. The handshake succeeds once the
// GATT services are resolved and notifications are enabled.
func (d *ScannerDriver) Open(address string, onStatus device.StatusFunc) (scanner.Link, error) {
	path := d.bus.DevicePath(address)
	l := &scannerLink{
		driver:   d,
		address:  address,
		path:     path,
		onStatus: onStatus,
		resolved: make(chan struct{}),
		closed:   make(chan struct{}),
	}
	l.unwatch = d.bus.Watch(path, l.onDeviceProps)

	call := d.bus.object(path).Go(deviceIface+".Connect", 0, make(chan *dbus.Call, 1))
	go l.handshake(call)
	return l, nil
}

type scannerLink struct {
	driver   *ScannerDriver
	address  string
	path     dbus.ObjectPath
	onStatus device.StatusFunc
	unwatch  func()

	resolveOnce sync.Once
	resolved    chan struct{}

	mu          sync.Mutex
	established bool
	notifyPath  dbus.ObjectPath
	writePath   dbus.ObjectPath
	unwatchChar func()

	closeOnce sync.Once
	closed    chan struct{}
}

func (l *scannerLink) handshake(call *dbus.Call) {
	select {
	case <-call.Done:
	case <-l.closed:
		return
	}
	if call.Err != nil {
		code := statusForError(call.Err)
		if code != StatusAlreadyConnected {
			l.onStatus(code, call.Err.Error())
			return
		}
	}

	if ok, err := l.driver.bus.getBool(l.path, deviceIface, "ServicesResolved"); err == nil && ok {
		l.markResolved()
	} else {
		l.onStatus(StatusResolving, "waiting for GATT services")
	}
	select {
	case <-l.resolved:
	case <-l.closed:
		return
	}

	if err := l.enableNotifications(); err != nil {
		l.onStatus(StatusFailed, err.Error())
		return
	}

	l.mu.Lock()
	l.established = true
	l.mu.Unlock()
	l.onStatus(StatusConnected, "")
}

func (l *scannerLink) markResolved() {
	l.resolveOnce.Do(func() { close(l.resolved) })
}

func (l *scannerLink) enableNotifications() error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	objects, err := l.driver.bus.managedObjects(ctx)
	if err != nil {
		return err
	}
	notifyPath, ok := findCharacteristic(objects, l.path, l.driver.cfg.NotifyUUID)
	if !ok {
		return fmt.Errorf("notify characteristic %s not found", l.driver.cfg.NotifyUUID)
	}
	writePath, ok := findCharacteristic(objects, l.path, l.driver.cfg.WriteUUID)
	if !ok {
		return fmt.Errorf("write characteristic %s not found", l.driver.cfg.WriteUUID)
	}

	unwatch := l.driver.bus.Watch(notifyPath, l.onCharProps)
	if err := l.driver.bus.object(notifyPath).CallWithContext(ctx, gattIface+".StartNotify", 0).Err; err != nil {
		unwatch()
		return fmt.Errorf("start notify: %w", err)
	}

	l.mu.Lock()
	l.notifyPath = notifyPath
	l.writePath = writePath
	l.unwatchChar = unwatch
	l.mu.Unlock()
	return nil
}

func (l *scannerLink) onDeviceProps(iface string, changed map[string]dbus.Variant) {
	if iface != deviceIface {
		return
	}
	if v, ok := changed["ServicesResolved"]; ok {
		if resolved, _ := v.Value().(bool); resolved {
			l.markResolved()
		}
	}
	if v, ok := changed["Connected"]; ok {
		if connected, _ := v.Value().(bool); !connected {
			select {
			case <-l.closed:
			default:
				l.onStatus(StatusDisconnected, "peer disconnected")
			}
		}
	}
}

func (l *scannerLink) onCharProps(iface string, changed map[string]dbus.Variant) {
	if iface != gattIface {
		return
	}
	v, ok := changed["Value"]
	if !ok {
		return
	}
	data, ok := v.Value().([]byte)
	if !ok || len(data) == 0 {
		return
	}
	l.driver.emit(l.address, string(data))
}

func (l *scannerLink) write(ctx context.Context, command []byte) error {
	l.mu.Lock()
	path := l.writePath
	l.mu.Unlock()
	if path == "" {
		return errors.New("scanner link not established")
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	options := map[string]dbus.Variant{"type": dbus.MakeVariant("request")}
	return l.driver.bus.object(path).CallWithContext(ctx, gattIface+".WriteValue", 0, command, options).Err
}

func (l *scannerLink) Beep(ctx context.Context, tone scanner.Tone) error {
	return l.write(ctx, encodeBeep(tone))
}

func (l *scannerLink) Vibrate(ctx context.Context, d time.Duration) error {
	return l.write(ctx, encodeVibrate(d))
}

func (l *scannerLink) SetScanMode(ctx context.Context, mode scanner.Mode) error {
	return l.write(ctx, encodeScanMode(mode))
}

func (l *scannerLink) BatteryLevel(ctx context.Context) (int, error) {
	v, err := l.driver.bus.getProp(l.path, batteryIface, "Percentage")
	if err != nil {
		return 0, fmt.Errorf("read battery: %w", err)
	}
	level, ok := v.Value().(byte)
	if !ok {
		return 0, fmt.Errorf("battery percentage has type %T", v.Value())
	}
	return int(level), nil
}

func (l *scannerLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		l.unwatch()

		l.mu.Lock()
		notifyPath, unwatchChar := l.notifyPath, l.unwatchChar
		l.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if unwatchChar != nil {
			unwatchChar()
			if stopErr := l.driver.bus.object(notifyPath).CallWithContext(ctx, gattIface+".StopNotify", 0).Err; stopErr != nil {
				l.driver.logger.Printf("StopNotify on %s: %v", l.address, stopErr)
			}
		}
		err = l.driver.bus.object(l.path).CallWithContext(ctx, deviceIface+".Disconnect", 0).Err
		if err != nil && statusForError(err) == StatusFailed {
			err = fmt.Errorf("disconnect %s: %w", l.address, err)
		} else {
			err = nil
		}
	})
	return err
}

// Scanner commands are short ASCII lines on the write characteristic.
func encodeBeep(tone scanner.Tone) []byte {
	return []byte(fmt.Sprintf("BEEP %d,%d,%d\r", tone.FrequencyHz, tone.Duration.Milliseconds(), tone.Volume))
}

func encodeVibrate(d time.Duration) []byte {
	return []byte(fmt.Sprintf("VIBR %d\r", d.Milliseconds()))
}

func encodeScanMode(mode scanner.Mode) []byte {
	if mode == scanner.ModeContinuous {
		return []byte("MODE CONT\r")
	}
	return []byte("MODE SNGL\r")
}
