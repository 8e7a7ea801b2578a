package lcd

import (
	"errors"
	"strings"
	"testing"
)

type recordingDisplay struct {
	writes []string
	err    error
}

func (r *recordingDisplay) WriteLine(row, col uint8, text string) error {
	r.writes = append(r.writes, string(rune('0'+row))+":"+string(rune('0'+col))+":"+text)
	return r.err
}

func TestNewMirrorIsBlank(t *testing.T) {
	m := NewMirror()
	for r := 0; r < Rows; r++ {
		if got := m.Row(r); got != strings.Repeat(" ", Cols) {
			t.Fatalf("row %d = %q", r, got)
		}
	}
}

func TestWriteLineCopiesText(t *testing.T) {
	m := NewMirror()
	text := "Air Press  998.50mb"
	if err := m.WriteLine(2, 0, text); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if got := strings.TrimRight(m.Row(2), " "); got != text {
		t.Fatalf("row 2 = %q, want %q", got, text)
	}
	if got := m.Row(2)[:len(text)]; got != text {
		t.Fatalf("cells = %q", got)
	}
}

func TestWriteLineAtOffset(t *testing.T) {
	m := NewMirror()
	_ = m.WriteLine(1, 5, "abc")
	for i, ch := range []byte("abc") {
		if got := m.Cell(1, 5+i); got != ch {
			t.Fatalf("cell (1,%d) = %q want %q", 5+i, got, ch)
		}
	}
	if m.Cell(1, 4) != ' ' || m.Cell(1, 8) != ' ' {
		t.Fatalf("neighbours touched: %q", m.Row(1))
	}
}

func TestWriteLineTruncates(t *testing.T) {
	m := NewMirror()
	long := "0123456789ABCDEFGHIJKLMNOP"
	if err := m.WriteLine(0, 15, long); err != nil {
		t.Fatal(err)
	}
	first := m.Snapshot()
	if got := m.Row(0)[15:]; got != "01234" {
		t.Fatalf("tail = %q", got)
	}
	if m.Row(1) != strings.Repeat(" ", Cols) {
		t.Fatalf("overflow wrapped into row 1: %q", m.Row(1))
	}
	_ = m.WriteLine(0, 15, long)
	second := m.Snapshot()
	for r := range first {
		if first[r] != second[r] {
			t.Fatalf("second write changed row %d: %q vs %q", r, first[r], second[r])
		}
	}
}

func TestWriteLineNoOps(t *testing.T) {
	phys := &recordingDisplay{}
	m := NewMirror(phys)
	if err := m.WriteLine(0, 0, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteLine(0, Cols, "x"); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteLine(0, 99, "x"); err != nil {
		t.Fatal(err)
	}
	if len(phys.writes) != 0 {
		t.Fatalf("no-op writes reached the device: %v", phys.writes)
	}
}

func TestWriteLineInvalidRow(t *testing.T) {
	m := NewMirror()
	for _, row := range []int{-1, Rows, 10} {
		if err := m.WriteLine(row, 0, "x"); !errors.Is(err, ErrInvalidRow) {
			t.Fatalf("row %d: got %v", row, err)
		}
	}
	if err := m.WriteLine(0, -1, "x"); !errors.Is(err, ErrInvalidColumn) {
		t.Fatalf("negative column: got %v", err)
	}
}

func TestClearBlanksAllCells(t *testing.T) {
	m := NewMirror()
	for r := 0; r < Rows; r++ {
		_ = m.WriteLine(r, 0, strings.Repeat("#", Cols))
	}
	if err := m.Clear(); err != nil {
		t.Fatal(err)
	}
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			if got := m.Cell(r, c); got != ' ' {
				t.Fatalf("cell (%d,%d) = %q after clear", r, c, got)
			}
		}
	}
}

func TestPhysicalFailureNotPropagated(t *testing.T) {
	phys := &recordingDisplay{err: errors.New("bricklet gone")}
	m := NewMirror(phys)
	if err := m.WriteLine(3, 0, "Temperature 21.50 C"); err != nil {
		t.Fatalf("physical error leaked: %v", err)
	}
	if len(phys.writes) != 1 || phys.writes[0] != "3:0:Temperature 21.50 C" {
		t.Fatalf("writes = %v", phys.writes)
	}
	if !strings.HasPrefix(m.Row(3), "Temperature") {
		t.Fatalf("grid not updated: %q", m.Row(3))
	}
}

func TestRedrawReplaysGridToPhysical(t *testing.T) {
	phys := &recordingDisplay{}
	m := NewMirror(phys)
	var observed int
	m.Observe(func(int, int, byte) { observed++ })
	_ = m.WriteLine(1, 2, "hello")
	phys.writes = nil
	observed = 0

	m.Redraw()
	if len(phys.writes) != Rows {
		t.Fatalf("writes = %v", phys.writes)
	}
	blank := strings.Repeat(" ", Cols)
	if want := "1:0:  hello" + blank[7:]; phys.writes[1] != want {
		t.Fatalf("row 1 redraw = %q, want %q", phys.writes[1], want)
	}
	if phys.writes[0] != "0:0:"+blank {
		t.Fatalf("row 0 redraw = %q", phys.writes[0])
	}
	if observed != 0 {
		t.Fatalf("redraw notified observers %d times", observed)
	}
	if m.Row(1) != "  hello"+blank[7:] {
		t.Fatalf("grid changed: %q", m.Row(1))
	}
}

func TestWriteWithoutPhysicalStillUpdatesGrid(t *testing.T) {
	m := NewMirror(nil)
	if err := m.WriteLine(0, 0, "Illuminanc 123.40 lx"); err != nil {
		t.Fatal(err)
	}
	if m.Row(0) != "Illuminanc 123.40 lx" {
		t.Fatalf("row 0 = %q", m.Row(0))
	}
}

func TestObserversSeeEveryCell(t *testing.T) {
	m := NewMirror()
	var seen []string
	m.Observe(func(row, col int, ch byte) {
		seen = append(seen, string([]byte{byte('0' + row), byte('a' + col), ch}))
	})
	_ = m.WriteLine(1, 18, "xyz")
	if len(seen) != 2 || seen[0] != "1sx" || seen[1] != "1ty" {
		t.Fatalf("observed %v", seen)
	}
}

func TestConsoleText(t *testing.T) {
	row := "Temperature 21.50 " + string([]byte{DegreeSign}) + "C"
	if got := ConsoleText(row); got != "Temperature 21.50 °C" {
		t.Fatalf("got %q", got)
	}
	if ConsoleRune(7) != '█' {
		t.Fatalf("glyph 7 = %q", ConsoleRune(7))
	}
}

func TestFrame(t *testing.T) {
	m := NewMirror()
	_ = m.WriteLine(3, 0, "Temperature 21.50 "+string([]byte{DegreeSign})+"C")
	lines := strings.Split(strings.TrimSuffix(Frame(m.Snapshot()), "\n"), "\n")
	if len(lines) != Rows+2 {
		t.Fatalf("got %d lines", len(lines))
	}
	if lines[0] != "+"+strings.Repeat("-", Cols)+"+" {
		t.Fatalf("top edge = %q", lines[0])
	}
	if lines[4] != "|Temperature 21.50 °C|" {
		t.Fatalf("row 3 = %q", lines[4])
	}
}

type glyphRecorder struct{ got map[uint8][8]byte }

func (g *glyphRecorder) SetCustomCharacter(i uint8, p [8]byte) error {
	g.got[i] = p
	return nil
}

func TestUploadGlyphs(t *testing.T) {
	rec := &glyphRecorder{got: map[uint8][8]byte{}}
	if err := UploadGlyphs(rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.got) != 8 || rec.got[7] != Glyphs[7] || rec.got[0][7] != 0xff || rec.got[0][6] != 0 {
		t.Fatalf("uploaded %v", rec.got)
	}
}
