package tinkerforge

import (
	"context"
	"sync"
)

// Device is the common part of every brick and bricklet handle.
type Device struct {
	uid    uint32
	uidStr string
	ipcon  *IPConnection

	mu        sync.RWMutex
	callbacks map[uint8]func(payload []byte)
}

func newDevice(uid string, ipcon *IPConnection) (*Device, error) {
	n, err := ParseUID(uid)
	if err != nil {
		return nil, err
	}
	d := &Device{
		uid:       n,
		uidStr:    uid,
		ipcon:     ipcon,
		callbacks: make(map[uint8]func([]byte)),
	}
	ipcon.addDevice(d)
	return d, nil
}

func (d *Device) UID() string { return d.uidStr }

// Destroy unregisters the device from its connection; callbacks stop arriving.
func (d *Device) Destroy() {
	d.ipcon.removeDevice(d)
}

func (d *Device) request(ctx context.Context, functionID uint8, payload []byte, responseExpected bool) ([]byte, error) {
	return d.ipcon.send(ctx, d.uid, functionID, payload, responseExpected)
}

func (d *Device) registerCallback(functionID uint8, fn func(payload []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		delete(d.callbacks, functionID)
		return
	}
	d.callbacks[functionID] = fn
}

func (d *Device) hasCallback(functionID uint8) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.callbacks[functionID]
	return ok
}

func (d *Device) dispatchCallback(functionID uint8, payload []byte) {
	d.mu.RLock()
	fn := d.callbacks[functionID]
	d.mu.RUnlock()
	if fn != nil {
		fn(payload)
	}
}
