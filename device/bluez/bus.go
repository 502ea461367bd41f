// Package bluez implements device drivers on top of the BlueZ D-Bus API.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/dotside-studios/warehouse-agent/device"
)

const (
	busName      = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	gattIface    = "org.bluez.GattCharacteristic1"
	batteryIface = "org.bluez.Battery1"
	propsIface   = "org.freedesktop.DBus.Properties"
	objMgrIface  = "org.freedesktop.DBus.ObjectManager"
	propsSignal  = propsIface + ".PropertiesChanged"
)

// DefaultAdapter is the controller used when none is configured.
const DefaultAdapter = "hci0"

// ErrAdapterOff is returned by Ready when the controller is not powered.
var ErrAdapterOff = errors.New("bluetooth adapter is powered off")

// PropertiesFunc receives a PropertiesChanged signal for a watched object.
type PropertiesFunc func(iface string, changed map[string]dbus.Variant)

// Bus wraps a system D-Bus connection for BlueZ operations. It is shared by
// every driver talking to the same adapter.
type Bus struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	logger  *log.Logger

	mu       sync.Mutex
	watchers map[dbus.ObjectPath]map[int]PropertiesFunc
	nextID   int

	signals chan *dbus.Signal
	done    chan struct{}
}

// Open connects to the system bus and subscribes to BlueZ property changes.
func Open(adapter string, logger *log.Logger) (*Bus, error) {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[bluez] ", log.LstdFlags)
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	b := &Bus{
		conn:     conn,
		adapter:  dbus.ObjectPath("/org/bluez/" + adapter),
		logger:   logger,
		watchers: make(map[dbus.ObjectPath]map[int]PropertiesFunc),
		signals:  make(chan *dbus.Signal, 64),
		done:     make(chan struct{}),
	}

	err = conn.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace("/org/bluez"),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to property changes: %w", err)
	}
	conn.Signal(b.signals)
	go b.dispatch()

	return b, nil
}

// Close stops signal dispatch and closes the bus connection.
func (b *Bus) Close() error {
	select {
	case <-b.done:
		return nil
	default:
	}
	close(b.done)
	b.conn.RemoveSignal(b.signals)
	return b.conn.Close()
}

// Ready reports whether BlueZ is on the bus and the adapter is powered.
func (b *Bus) Ready() error {
	var names []string
	if err := b.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("org.bluez not found on system bus, is bluetooth.service running?")
	}

	powered, err := b.getBool(b.adapter, adapterIface, "Powered")
	if err != nil {
		return fmt.Errorf("read adapter state: %w", err)
	}
	if !powered {
		return ErrAdapterOff
	}
	return nil
}

// DevicePath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func (b *Bus) DevicePath(addr string) dbus.ObjectPath {
	return devicePath(b.adapter, addr)
}

func devicePath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(addr)), ":", "_")
	return dbus.ObjectPath(string(adapter) + "/dev_" + escaped)
}

// macFromPath extracts a MAC address from a BlueZ device object path.
func macFromPath(adapter, path dbus.ObjectPath) string {
	s := string(path)
	prefix := string(adapter) + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	rest := s[len(prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return strings.ReplaceAll(rest, "_", ":")
}

func (b *Bus) object(path dbus.ObjectPath) dbus.BusObject {
	return b.conn.Object(busName, path)
}

func (b *Bus) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := b.object(path).Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (b *Bus) getBool(path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := b.getProp(path, iface, prop)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s is not bool", prop)
	}
	return val, nil
}

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func (b *Bus) managedObjects(ctx context.Context) (managedObjects, error) {
	var objects managedObjects
	err := b.conn.Object(busName, "/").CallWithContext(ctx, objMgrIface+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}
	return objects, nil
}

// ListDevices returns the devices BlueZ knows on this adapter, paired first.
func (b *Bus) ListDevices() ([]device.DeviceInfo, error) {
	objects, err := b.managedObjects(context.Background())
	if err != nil {
		return nil, err
	}
	return devicesFromObjects(b.adapter, objects), nil
}

func devicesFromObjects(adapter dbus.ObjectPath, objects managedObjects) []device.DeviceInfo {
	var out []device.DeviceInfo
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		addr := macFromPath(adapter, path)
		if addr == "" {
			continue
		}
		info := device.DeviceInfo{Address: addr}
		if v, ok := props["Alias"]; ok {
			info.Name, _ = v.Value().(string)
		}
		if v, ok := props["Name"]; ok && info.Name == "" {
			info.Name, _ = v.Value().(string)
		}
		if v, ok := props["Paired"]; ok {
			info.Paired, _ = v.Value().(bool)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Paired != out[j].Paired {
			return out[i].Paired
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// findCharacteristic returns the GATT characteristic with uuid under dev.
func findCharacteristic(objects managedObjects, dev dbus.ObjectPath, uuid string) (dbus.ObjectPath, bool) {
	prefix := string(dev) + "/"
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[gattIface]
		if !ok {
			continue
		}
		v, ok := props["UUID"]
		if !ok {
			continue
		}
		if s, _ := v.Value().(string); strings.EqualFold(s, uuid) {
			return path, true
		}
	}
	return "", false
}

// Watch calls fn for every PropertiesChanged signal on path until the
// returned function is called.
func (b *Bus) Watch(path dbus.ObjectPath, fn PropertiesFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.watchers[path] == nil {
		b.watchers[path] = make(map[int]PropertiesFunc)
	}
	b.watchers[path][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.watchers[path], id)
			if len(b.watchers[path]) == 0 {
				delete(b.watchers, path)
			}
		})
	}
}

func (b *Bus) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case sig, ok := <-b.signals:
			if !ok {
				return
			}
			b.handleSignal(sig)
		}
	}
}

func (b *Bus) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != propsSignal || len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	b.mu.Lock()
	fns := make([]PropertiesFunc, 0, len(b.watchers[sig.Path]))
	for _, fn := range b.watchers[sig.Path] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(iface, changed)
	}
}
