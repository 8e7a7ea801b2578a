// Package lcd keeps an in-memory copy of a 20x4 character display and echoes every
// write to the attached physical displays and on-screen observers.
package lcd

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fisaks/weatherstation/internal/logging"
)

const (
	Rows = 4
	Cols = 20
)

var (
	ErrInvalidRow    = errors.New("lcd: row out of range")
	ErrInvalidColumn = errors.New("lcd: negative column")
)

// Physical is a real display the mirror echoes writes to. Errors are logged, not returned.
type Physical interface {
	WriteLine(row, col uint8, text string) error
}

// CellObserver is told about every cell written, after the grid was updated.
type CellObserver func(row, col int, ch byte)

type Mirror struct {
	mu        sync.RWMutex
	grid      [Rows][Cols]byte
	physical  []Physical
	observers []CellObserver
}

func NewMirror(physical ...Physical) *Mirror {
	m := &Mirror{}
	for r := range m.grid {
		for c := range m.grid[r] {
			m.grid[r][c] = ' '
		}
	}
	for _, p := range physical {
		if p != nil {
			m.physical = append(m.physical, p)
		}
	}
	return m
}

// Attach adds another physical display. Not for use while writes are in flight.
func (m *Mirror) Attach(p Physical) {
	if p == nil {
		return
	}
	m.mu.Lock()
	m.physical = append(m.physical, p)
	m.mu.Unlock()
}

func (m *Mirror) Observe(o CellObserver) {
	if o == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// WriteLine copies text into row starting at col. Bytes past the last column are dropped.
func (m *Mirror) WriteLine(row, col int, text string) error {
	if row < 0 || row >= Rows {
		return fmt.Errorf("%w: %d", ErrInvalidRow, row)
	}
	if col < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidColumn, col)
	}
	if len(text) == 0 || col >= Cols {
		return nil
	}

	n := min(len(text), Cols-col)
	m.mu.Lock()
	copy(m.grid[row][col:col+n], text[:n])
	physical := m.physical
	observers := m.observers
	m.mu.Unlock()

	for _, p := range physical {
		if err := p.WriteLine(uint8(row), uint8(col), text); err != nil {
			logging.Warn("physical display write failed", "row", row, "col", col, "error", err)
		}
	}
	for _, o := range observers {
		for i := 0; i < n; i++ {
			o(row, col+i, text[i])
		}
	}
	return nil
}

// Redraw sends every row to the physical displays again without touching the grid.
// Used after a display was reset underneath the mirror.
func (m *Mirror) Redraw() {
	rows := m.Snapshot()
	m.mu.RLock()
	physical := m.physical
	m.mu.RUnlock()

	for _, p := range physical {
		for r, text := range rows {
			if err := p.WriteLine(uint8(r), 0, text); err != nil {
				logging.Warn("physical display redraw failed", "row", r, "error", err)
			}
		}
	}
}

// Clear blanks every row with spaces.
func (m *Mirror) Clear() error {
	blank := strings.Repeat(" ", Cols)
	for r := 0; r < Rows; r++ {
		if err := m.WriteLine(r, 0, blank); err != nil {
			return err
		}
	}
	return nil
}

// Cell returns the character at (row, col), or 0 when out of range.
func (m *Mirror) Cell(row, col int) byte {
	if row < 0 || row >= Rows || col < 0 || col >= Cols {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grid[row][col]
}

func (m *Mirror) Row(row int) string {
	if row < 0 || row >= Rows {
		return ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return string(m.grid[row][:])
}

func (m *Mirror) Snapshot() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := make([]string, Rows)
	for r := range m.grid {
		rows[r] = string(m.grid[r][:])
	}
	return rows
}
