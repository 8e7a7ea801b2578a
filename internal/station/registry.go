package station

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fisaks/weatherstation/internal/lcd"
	tf "github.com/fisaks/weatherstation/internal/tinkerforge"
)

// DeviceInfo is what enumeration told us about a present bricklet.
type DeviceInfo struct {
	UID          string `json:"uid"`
	ConnectedUID string `json:"connectedUid"`
	Position     string `json:"position"`
	Identifier   uint16 `json:"deviceIdentifier"`
	Name         string `json:"name"`
	Firmware     string `json:"firmware"`
	Hardware     string `json:"hardware"`
}

func newDeviceInfo(ev tf.EnumerateEvent) DeviceInfo {
	return DeviceInfo{
		UID:          ev.UID,
		ConnectedUID: ev.ConnectedUID,
		Position:     string(rune(ev.Position)),
		Identifier:   ev.DeviceIdentifier,
		Name:         tf.DeviceName(ev.DeviceIdentifier),
		Firmware:     version(ev.FirmwareVersion),
		Hardware:     version(ev.HardwareVersion),
	}
}

func version(v [3]uint8) string { return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2]) }

// Registry holds the current handle of every device kind. A nil handle means absent.
type Registry struct {
	lcd       atomic.Pointer[tf.LCD20x4]
	ambient   atomic.Pointer[tf.AmbientLight]
	humidity  atomic.Pointer[tf.Humidity]
	barometer atomic.Pointer[tf.Barometer]

	mu       sync.RWMutex
	info     map[string]DeviceInfo
	onChange []func()
}

func NewRegistry() *Registry {
	return &Registry{info: make(map[string]DeviceInfo)}
}

func (r *Registry) LCD() *tf.LCD20x4               { return r.lcd.Load() }
func (r *Registry) AmbientLight() *tf.AmbientLight { return r.ambient.Load() }
func (r *Registry) Humidity() *tf.Humidity         { return r.humidity.Load() }
func (r *Registry) Barometer() *tf.Barometer       { return r.barometer.Load() }

func (r *Registry) SetLCD(d *tf.LCD20x4, info DeviceInfo) {
	retire(r.lcd.Swap(d), d)
	r.remember(info)
}

func (r *Registry) SetAmbientLight(d *tf.AmbientLight, info DeviceInfo) {
	retire(r.ambient.Swap(d), d)
	r.remember(info)
}

func (r *Registry) SetHumidity(d *tf.Humidity, info DeviceInfo) {
	retire(r.humidity.Swap(d), d)
	r.remember(info)
}

func (r *Registry) SetBarometer(d *tf.Barometer, info DeviceInfo) {
	retire(r.barometer.Swap(d), d)
	r.remember(info)
}

// retire unregisters the handle that was replaced so its callbacks stop.
func retire[T any, P interface {
	*T
	Destroy()
}](old, cur P) {
	if old != nil && old != cur {
		old.Destroy()
	}
}

// Remove clears whichever handle has the given uid.
func (r *Registry) Remove(uid string) bool {
	removed := false
	if d := r.lcd.Load(); d != nil && d.UID() == uid && r.lcd.CompareAndSwap(d, nil) {
		d.Destroy()
		removed = true
	}
	if d := r.ambient.Load(); d != nil && d.UID() == uid && r.ambient.CompareAndSwap(d, nil) {
		d.Destroy()
		removed = true
	}
	if d := r.humidity.Load(); d != nil && d.UID() == uid && r.humidity.CompareAndSwap(d, nil) {
		d.Destroy()
		removed = true
	}
	if d := r.barometer.Load(); d != nil && d.UID() == uid && r.barometer.CompareAndSwap(d, nil) {
		d.Destroy()
		removed = true
	}

	r.mu.Lock()
	_, known := r.info[uid]
	delete(r.info, uid)
	r.mu.Unlock()
	if known {
		r.changed()
	}
	return removed
}

// Reset drops every handle, e.g. after the brickd connection was lost.
func (r *Registry) Reset() {
	retire(r.lcd.Swap(nil), nil)
	retire(r.ambient.Swap(nil), nil)
	retire(r.humidity.Swap(nil), nil)
	retire(r.barometer.Swap(nil), nil)
	r.mu.Lock()
	r.info = make(map[string]DeviceInfo)
	r.mu.Unlock()
	r.changed()
}

func (r *Registry) remember(info DeviceInfo) {
	if info.UID == "" {
		return
	}
	r.mu.Lock()
	r.info[info.UID] = info
	r.mu.Unlock()
	r.changed()
}

// Devices lists the present devices ordered by uid.
func (r *Registry) Devices() []DeviceInfo {
	r.mu.RLock()
	out := make([]DeviceInfo, 0, len(r.info))
	for _, d := range r.info {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// OnChange registers fn to run after the set of present devices changed.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

func (r *Registry) changed() {
	r.mu.RLock()
	fns := append([]func(){}, r.onChange...)
	r.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// SetBacklight switches the LCD backlight, failing when no LCD is present.
func (r *Registry) SetBacklight(ctx context.Context, on bool) error {
	l := r.LCD()
	if l == nil {
		return ErrNoDisplay
	}
	if on {
		return l.BacklightOn(ctx)
	}
	return l.BacklightOff(ctx)
}

// Display returns an lcd.Physical that forwards to whatever LCD is currently present.
func (r *Registry) Display() lcd.Physical { return registryDisplay{r} }

type registryDisplay struct{ reg *Registry }

func (d registryDisplay) WriteLine(row, col uint8, text string) error {
	l := d.reg.LCD()
	if l == nil {
		return nil
	}
	return l.WriteLine(row, col, text)
}
