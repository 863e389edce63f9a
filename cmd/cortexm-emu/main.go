// Command cortexm-emu loads a raw firmware image, wires a Machine
// Controller to host UART I/O and, optionally, a GDB debug server, and
// runs it to completion. Flag parsing follows the teacher's kong-based
// CLI idiom (cli.go); unlike the teacher, which defaults to a GUI
// subcommand, this front end has exactly one mode of operation: run a
// firmware image, either freely or under GDB's control.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/dgrr/cortexm-emu/internal/config"
	"github.com/dgrr/cortexm-emu/internal/debugsrv"
	"github.com/dgrr/cortexm-emu/internal/hostio"
	"github.com/dgrr/cortexm-emu/internal/isa"
	"github.com/dgrr/cortexm-emu/internal/logx"
	"github.com/dgrr/cortexm-emu/internal/machine"
)

// CLI mirrors the flag surface SPEC_FULL.md names: a positional
// firmware path plus --ram/--flash/--pagesize/--loglevel/--gdb/
// --config/--isa. A --config file's value is applied only to a flag
// that still holds its struct-tag default (see applyBoardDefaults), so a
// flag passed explicitly with a value equal to that default is
// overridden by the file.
type CLI struct {
	Firmware string `arg:"" name:"firmware" help:"Path to the raw firmware image." type:"existingfile"`

	RAMKB    int    `name:"ram" help:"SRAM size in KiB." default:"16"`
	FlashKB  int    `name:"flash" help:"Flash size in KiB." default:"256"`
	PageSize int    `name:"pagesize" help:"Flash erase page size in bytes; must be a power of two." default:"1024"`
	LogLevel string `name:"loglevel" help:"One of error, warning, calls, calls_sp, instrs." default:"error"`
	GDB      string `name:"gdb" help:"host:port to serve the GDB Remote Serial Protocol on; omit to run freely instead." default:""`
	Config   string `name:"config" help:"Optional TOML file of board defaults." default:""`
	ISA      string `name:"isa" help:"Decoder profile: m0 or m4." default:"m4"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("cortexm-emu"),
		kong.Description("Cortex-M Thumb/Thumb-2 instruction-level emulator."))

	os.Exit(run(cli))
}

// run returns the process exit code: 0 on a clean Exit/Halt, non-zero
// otherwise. It never itself calls os.Exit, so it can be covered by a
// test that only checks the return value.
func run(cli CLI) int {
	if cli.Config != "" {
		board, err := config.Load(cli.Config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cortexm-emu: loading %s: %v\n", cli.Config, err)
			return 1
		}
		applyBoardDefaults(&cli, board)
	}

	level, ok := logx.ParseLevel(cli.LogLevel)
	if !ok {
		fmt.Fprintf(os.Stderr, "cortexm-emu: unknown loglevel %q\n", cli.LogLevel)
		return 1
	}
	log := logx.New("cortexm-emu", level)

	isaLevel, err := parseISA(cli.ISA)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cortexm-emu: %v\n", err)
		return 1
	}

	firmware, err := os.ReadFile(cli.Firmware)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cortexm-emu: %v\n", err)
		return 1
	}

	source, sink, restore := hostUARTBackend()
	defer restore()

	m, err := machine.New(machine.Config{
		ImageSize:  cli.FlashKB * 1024,
		PageSize:   cli.PageSize,
		MemSize:    cli.RAMKB * 1024,
		ISALevel:   isaLevel,
		UARTSource: source,
		UARTSink:   sink,
		Log:        log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cortexm-emu: %v\n", err)
		return 1
	}
	if err := m.Load(firmware); err != nil {
		fmt.Fprintf(os.Stderr, "cortexm-emu: %v\n", err)
		return 1
	}
	if err := m.Reset(); err != nil {
		fmt.Fprintf(os.Stderr, "cortexm-emu: %v\n", err)
		return 1
	}

	if cli.GDB != "" {
		srv := debugsrv.New(m, cli.FlashKB*1024, cli.PageSize, cli.RAMKB*1024, log)
		log.Warnf("gdb rsp server listening on %s", cli.GDB)
		if err := srv.ListenAndServe(cli.GDB); err != nil {
			fmt.Fprintf(os.Stderr, "cortexm-emu: gdb server: %v\n", err)
			return 1
		}
		return 0
	}

	res := m.Run()
	if res.Fatal() {
		return 1
	}
	return 0
}

func applyBoardDefaults(cli *CLI, b config.Board) {
	defaults := map[string]bool{
		"ram":      cli.RAMKB == 16,
		"flash":    cli.FlashKB == 256,
		"pagesize": cli.PageSize == 1024,
		"loglevel": cli.LogLevel == "error",
		"gdb":      cli.GDB == "",
		"isa":      cli.ISA == "m4",
	}
	if b.RAMKB != 0 && defaults["ram"] {
		cli.RAMKB = b.RAMKB
	}
	if b.FlashKB != 0 && defaults["flash"] {
		cli.FlashKB = b.FlashKB
	}
	if b.PageSize != 0 && defaults["pagesize"] {
		cli.PageSize = b.PageSize
	}
	if b.LogLevel != "" && defaults["loglevel"] {
		cli.LogLevel = b.LogLevel
	}
	if b.GDBAddress != "" && defaults["gdb"] {
		cli.GDB = b.GDBAddress
	}
	if b.ISA != "" && defaults["isa"] {
		cli.ISA = b.ISA
	}
}

func parseISA(s string) (isa.Level, error) {
	switch s {
	case "m0":
		return isa.M0, nil
	case "m4":
		return isa.M4, nil
	default:
		return 0, fmt.Errorf("unknown isa %q, want m0 or m4", s)
	}
}

// hostUARTBackend wires UART RXD/TXD to the host terminal when stdin is
// interactive, or to plain stdin/stdout otherwise (piped input, CI, or
// a test harness). The returned restore func undoes any terminal mode
// change; it is always safe to call, even if no change was made.
func hostUARTBackend() (source charSource, sink charSink, restore func()) {
	if term, err := hostio.NewTerminal(os.Stdin, os.Stdout); err == nil {
		return term, term, func() { term.Restore() }
	}
	return hostio.NewReader(os.Stdin), hostio.NewWriter(os.Stdout), func() {}
}

// charSource/charSink alias the interfaces machine.Config expects,
// named locally so hostUARTBackend's signature doesn't have to repeat
// router's interface names.
type charSource interface{ GetChar() int32 }
type charSink interface{ PutChar(b byte) }
