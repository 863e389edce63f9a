// Package debugsrv implements a GDB Remote Serial Protocol server over
// TCP, translating RSP commands into calls on the Machine Controller's
// control surface: step, run/continue, halt, set/clear breakpoint, and
// register/memory reads. It never reaches into internal/cpu or
// internal/router directly — everything goes through the Controller
// interface, which internal/machine.Machine satisfies.
//
// The wire-protocol handling ($packet#checksum framing, the qSupported/
// qXfer/Hg/Hc negotiation GDB performs before it trusts a target) is
// grounded directly on the reference RSP server this emulator's
// ancestor used, adapted from a single global machine_t to the present
// Controller interface so one server can drive any Machine.
package debugsrv

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/dgrr/cortexm-emu/internal/emuresult"
	"github.com/dgrr/cortexm-emu/internal/logx"
)

// Controller is the subset of Machine's control surface the debug
// server drives. Declared here, rather than importing internal/machine,
// so internal/machine never has to import internal/debugsrv back.
type Controller interface {
	Step() emuresult.Result
	Run() emuresult.Result
	RequestHalt()
	WaitHalted()
	SetBreakpoint(slot int, address uint32) error
	ReadRegister(i int) uint32
	ReadRegisters(buf []byte, n int) int
	ReadMemory(buf []byte, address uint32, length int) error
}

// Server serves GDB RSP connections one at a time: two GDB instances
// sharing the same target would otherwise trample each other's view of
// machine state, so a connection is handled to completion before the
// next Accept.
type Server struct {
	m Controller

	flashSize     int
	flashPageSize int
	ramSize       int

	log *logx.Logger
}

// New builds a Server. flashSize, flashPageSize and ramSize are in
// bytes and are reported to GDB via the qXfer:memory-map annex.
func New(m Controller, flashSize, flashPageSize, ramSize int, log *logx.Logger) *Server {
	return &Server{m: m, flashSize: flashSize, flashPageSize: flashPageSize, ramSize: ramSize, log: log}
}

// ListenAndServe accepts GDB connections on addr (host:port) until the
// listener itself fails.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if err := s.handle(conn); err != nil {
			s.log.Warnf("gdb connection error: %v", err)
		}
	}
}

// GDB requests this (as target.xml) to learn the target's register map.
const annexTarget = `<?xml version="1.0"?>
<!DOCTYPE target SYSTEM "gdb-target.dtd">
<target version="1.0">
<feature name="org.gnu.gdb.arm.m-profile">
<reg name="r0" bitsize="32" regnum="0" save-restore="yes" type="int" group="general"/>
<reg name="r1" bitsize="32" regnum="1" save-restore="yes" type="int" group="general"/>
<reg name="r2" bitsize="32" regnum="2" save-restore="yes" type="int" group="general"/>
<reg name="r3" bitsize="32" regnum="3" save-restore="yes" type="int" group="general"/>
<reg name="r4" bitsize="32" regnum="4" save-restore="yes" type="int" group="general"/>
<reg name="r5" bitsize="32" regnum="5" save-restore="yes" type="int" group="general"/>
<reg name="r6" bitsize="32" regnum="6" save-restore="yes" type="int" group="general"/>
<reg name="r7" bitsize="32" regnum="7" save-restore="yes" type="int" group="general"/>
<reg name="r8" bitsize="32" regnum="8" save-restore="yes" type="int" group="general"/>
<reg name="r9" bitsize="32" regnum="9" save-restore="yes" type="int" group="general"/>
<reg name="r10" bitsize="32" regnum="10" save-restore="yes" type="int" group="general"/>
<reg name="r11" bitsize="32" regnum="11" save-restore="yes" type="int" group="general"/>
<reg name="r12" bitsize="32" regnum="12" save-restore="yes" type="int" group="general"/>
<reg name="sp" bitsize="32" regnum="13" save-restore="yes" type="data_ptr" group="general"/>
<reg name="lr" bitsize="32" regnum="14" save-restore="yes" type="int" group="general"/>
<reg name="pc" bitsize="32" regnum="15" save-restore="yes" type="code_ptr" group="general"/>
<reg name="xPSR" bitsize="32" regnum="16" save-restore="yes" type="int" group="general"/>
</feature>
</target>
`

// GDB requests this to learn the target's memory map.
const annexMemoryMapFmt = `<memory-map>
<memory type="flash" start="0x0" length="0x%x">
<property name="blocksize">0x%x</property>
</memory>
<memory type="ram" start="0x20000000" length="0x%x"/>
</memory-map>
`

func (s *Server) handle(sock net.Conn) error {
	defer sock.Close()
	conn := bufio.NewReadWriter(bufio.NewReader(sock), bufio.NewWriter(sock))
	acks := true

	packetChan := make(chan string)
	go recvPackets(conn, packetChan)

	for packet := range packetChan {
		if packet == "" {
			continue
		}

		// Required before QStartNoAckMode is negotiated; pointless over
		// TCP but GDB insists on it.
		if acks {
			conn.WriteByte('+')
		}

		switch {
		case strings.HasPrefix(packet, "qSupported:"):
			sendPacket(conn, "PacketSize=3fff;qXfer:memory-map:read+;qXfer:features:read+;QStartNoAckMode+")
		case packet == "QStartNoAckMode":
			sendPacket(conn, "OK")
			acks = false
		case packet == "Hg0":
			sendPacket(conn, "OK") // set thread mode
		case strings.HasPrefix(packet, "qXfer:"):
			s.handleQXfer(conn, packet)
		case strings.HasPrefix(packet, "qSymbol"):
			sendPacket(conn, "OK")
		case packet == "qfThreadInfo":
			sendPacket(conn, "l")
		case packet == "Hc-1" || packet == "Hc0":
			sendPacket(conn, "OK") // microcontrollers have no threads
		case packet == "?":
			sendPacket(conn, "S00")
		case packet[0] == 'p':
			s.handleReadOneRegister(conn, packet)
		case packet == "g":
			s.handleReadAllRegisters(conn)
		case packet[0] == 'm':
			s.handleReadMemory(conn, packet)
		case packet == "c":
			s.handleContinue(conn, packetChan)
		case packet == "s":
			s.handleStep(conn)
		case packet[0] == 'Z' || packet[0] == 'z':
			s.handleBreakpoint(conn, packet)
		default:
			sendPacket(conn, "")
		}

		// The packet must go out now: GDB is waiting on it before it will
		// send its next command.
		conn.Flush()
	}
	return nil
}

func (s *Server) handleQXfer(conn *bufio.ReadWriter, packet string) {
	parts := strings.Split(packet[len("qXfer:"):], ":")
	if len(parts) != 4 {
		sendPacket(conn, "")
		return
	}
	var offset, length int
	if _, err := fmt.Sscanf(parts[3], "%x,%x", &offset, &length); err != nil || offset != 0 {
		sendPacket(conn, "")
		return
	}

	var data string
	switch {
	case strings.HasPrefix(packet, "qXfer:features:read:target.xml:"):
		data = annexTarget
	case strings.HasPrefix(packet, "qXfer:memory-map:read::"):
		data = fmt.Sprintf(annexMemoryMapFmt, s.flashSize, s.flashPageSize, s.ramSize)
	default:
		sendPacket(conn, "")
		return
	}
	sendPacket(conn, "l"+data)
}

func (s *Server) handleReadOneRegister(conn *bufio.ReadWriter, packet string) {
	var reg int
	if _, err := fmt.Sscanf(packet[1:], "%x", &reg); err != nil {
		sendPacket(conn, "")
		return
	}
	v := s.m.ReadRegister(reg)
	b := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	sendPacket(conn, hex.EncodeToString(b))
}

func (s *Server) handleReadAllRegisters(conn *bufio.ReadWriter) {
	buf := make([]byte, 17*4)
	n := s.m.ReadRegisters(buf, 17)
	sendPacket(conn, hex.EncodeToString(buf[:n*4]))
}

func (s *Server) handleReadMemory(conn *bufio.ReadWriter, packet string) {
	var addr, length uint32
	if _, err := fmt.Sscanf(packet[1:], "%x,%x", &addr, &length); err != nil {
		sendPacket(conn, "")
		return
	}
	buf := make([]byte, length)
	if err := s.m.ReadMemory(buf, addr, int(length)); err != nil {
		sendPacket(conn, "E01")
		return
	}
	sendPacket(conn, hex.EncodeToString(buf))
}

// handleContinue resumes the run loop in its own goroutine and waits for
// either it to finish on its own (exit/fault/breakpoint) or GDB to send
// a Ctrl-C, in which case RequestHalt/WaitHalted stop it cooperatively.
func (s *Server) handleContinue(conn *bufio.ReadWriter, packetChan chan string) {
	resultCh := make(chan emuresult.Result, 1)
	go func() { resultCh <- s.m.Run() }()

	for {
		select {
		case packet, ok := <-packetChan:
			if !ok {
				return
			}
			if packet == "\x03" {
				s.m.RequestHalt()
				s.m.WaitHalted()
			} else {
				s.log.Warnf("gdb: unexpected packet during continue: %q", packet)
			}
		case res := <-resultCh:
			sendPacket(conn, stopReply(res))
			return
		}
	}
}

func (s *Server) handleStep(conn *bufio.ReadWriter) {
	sendPacket(conn, stopReply(s.m.Step()))
}

// stopReply maps a Result onto the RSP stop-reply GDB expects: "Wxx" for
// a normal process exit, "Sxx" carrying a Unix signal number otherwise.
func stopReply(res emuresult.Result) string {
	switch res {
	case emuresult.Exit:
		return "W00"
	case emuresult.Halt:
		return "S02" // SIGINT
	case emuresult.BreakHit, emuresult.OK:
		return "S05" // SIGTRAP
	default:
		return "S04" // SIGILL: fault/undefined/divide-by-zero
	}
}

func (s *Server) handleBreakpoint(conn *bufio.ReadWriter, packet string) {
	if len(packet) < 2 {
		sendPacket(conn, "E00")
		return
	}
	remove := packet[0] == 'z'
	slot := int(packet[1] - '0')
	if slot < 0 || slot >= 4 {
		sendPacket(conn, "E00")
		return
	}
	var address uint32
	if _, err := fmt.Sscanf(packet[2:], ",%x", &address); err != nil {
		sendPacket(conn, "E00")
		return
	}
	if remove {
		address = 0
	}
	if err := s.m.SetBreakpoint(slot, address); err != nil {
		sendPacket(conn, "E00")
		return
	}
	sendPacket(conn, "OK")
}

func recvPackets(conn *bufio.ReadWriter, packetChan chan string) {
	defer close(packetChan)
	for {
		packet, err := recvPacket(conn)
		if err != nil {
			return
		}
		if packet == "" {
			continue
		}
		packetChan <- packet
	}
}

// recvPacket reads one RSP packet in "$payload#checksum" format off
// conn. A lone Ctrl-C byte (0x03) outside any packet framing is
// reported as the packet "\x03".
func recvPacket(conn *bufio.ReadWriter) (string, error) {
	c, err := conn.ReadByte()
	if err != nil {
		return "", err
	}
	for c != '$' {
		if c == 3 {
			return "\x03", nil
		}
		c, err = conn.ReadByte()
		if err != nil {
			return "", err
		}
	}
	packet, err := conn.ReadString('#')
	if err != nil {
		return "", err
	}

	c1, err := conn.ReadByte()
	if err != nil {
		return "", err
	}
	c2, err := conn.ReadByte()
	if err != nil {
		return "", err
	}
	checksum := string([]byte{c1, c2})

	packet = packet[:len(packet)-1] // drop the trailing '#'
	if len(packet) == 0 {
		return "", nil
	}
	if checksum != packetChecksum(packet) {
		return "", errors.New("gdb rsp checksum mismatch")
	}
	return packet, nil
}

func sendPacket(conn *bufio.ReadWriter, msg string) error {
	packet := fmt.Sprintf("$%s#%s", msg, packetChecksum(msg))
	_, err := conn.WriteString(packet)
	return err
}

// packetChecksum is the unsigned sum of the payload's bytes, modulo 256.
func packetChecksum(msg string) string {
	var checksum uint8
	for _, c := range []byte(msg) {
		checksum += c
	}
	return fmt.Sprintf("%02x", checksum)
}
