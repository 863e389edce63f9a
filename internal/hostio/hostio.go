// Package hostio implements the two host-side collaborators the UART
// peripheral talks through: a blocking byte source and a non-blocking
// byte sink. internal/router never imports this package directly — it
// is handed a router.CharSource/router.CharSink built here, so the
// choice of a raw terminal versus a buffered fixture lives entirely in
// cmd/cortexm-emu and in tests.
//
// This generalizes the teacher's pkg/term-backed console idiom (see
// easyterm in the wider Go ARM-emulation corpus) from a full-screen
// debugger UI to a single blocking-byte serial console.
package hostio

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"
)

// CharSource is the blocking host-side byte source backing UART RXD.
// GetChar returns the next byte, or a negative value once the source is
// exhausted or the underlying read fails.
type CharSource interface {
	GetChar() int32
}

// CharSink is the non-blocking host-side byte sink backing UART TXD.
// Only the low 8 bits of b are meaningful.
type CharSink interface {
	PutChar(b byte)
}

// Terminal places the host's stdin in cbreak mode for the duration of
// an emulator run, so firmware reading UART RXD sees keystrokes
// immediately rather than after a line is buffered and Enter is
// pressed. Restore puts the terminal back the way it found it.
type Terminal struct {
	in  *os.File
	out *os.File

	canonAttr  unix.Termios
	cbreakAttr unix.Termios
}

// NewTerminal captures in's current terminal attributes and switches it
// to cbreak mode. Call Restore when the emulator run ends.
func NewTerminal(in, out *os.File) (*Terminal, error) {
	t := &Terminal{in: in, out: out}
	if err := termios.Tcgetattr(in.Fd(), &t.canonAttr); err != nil {
		return nil, err
	}
	t.cbreakAttr = t.canonAttr
	termios.Cfmakecbreak(&t.cbreakAttr)
	if err := termios.Tcsetattr(in.Fd(), termios.TCIFLUSH, &t.cbreakAttr); err != nil {
		return nil, err
	}
	return t, nil
}

// Restore puts the terminal back into the canonical mode it was in
// before NewTerminal ran.
func (t *Terminal) Restore() error {
	return termios.Tcsetattr(t.in.Fd(), termios.TCIFLUSH, &t.canonAttr)
}

// GetChar blocks for a single byte of stdin, returning -1 on EOF or
// read error.
func (t *Terminal) GetChar() int32 {
	var b [1]byte
	n, err := t.in.Read(b[:])
	if n == 0 || err != nil {
		return -1
	}
	return int32(b[0])
}

// PutChar writes one byte to stdout, discarding the rare write error:
// a dropped console character must never stall the run loop.
func (t *Terminal) PutChar(b byte) {
	t.out.Write([]byte{b})
}

// Reader is a CharSource backed by an arbitrary io.Reader, for feeding
// UART RXD from a fixture in tests or from a piped, non-interactive
// stdin.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for byte-at-a-time reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// GetChar returns the next byte from the underlying reader, or -1 once
// it is exhausted or errors.
func (s *Reader) GetChar() int32 {
	b, err := s.r.ReadByte()
	if err != nil {
		return -1
	}
	return int32(b)
}

// Writer is a CharSink backed by an arbitrary io.Writer, for capturing
// UART TXD output in tests or routing it to a file/pipe.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for single-byte writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// PutChar writes b to the underlying writer, discarding any error for
// the same reason Terminal.PutChar does.
func (s *Writer) PutChar(b byte) {
	s.w.Write([]byte{b})
}
