// Package config loads optional board-default settings from a TOML
// file, following the teacher's pattern of a small struct decoded with
// BurntSushi/toml. Unlike the teacher, which reads from a fixed
// per-user config directory, this emulator's config file is named
// explicitly by the CLI's --config flag, since a board-default file is
// a per-project artifact committed next to firmware, not a per-user
// preference.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Board holds the defaults a TOML file may supply; every field is the
// zero value when absent, and cmd/cortexm-emu only applies a field when
// its corresponding CLI flag was left unset.
type Board struct {
	RAMKB      int    `toml:"ram_kb"`
	FlashKB    int    `toml:"flash_kb"`
	PageSize   int    `toml:"pagesize"`
	LogLevel   string `toml:"loglevel"`
	GDBAddress string `toml:"gdb_address"`
	ISA        string `toml:"isa"`
}

// Load decodes path into a Board. A missing file is not an error — it
// just means no defaults were supplied — but a malformed one is.
func Load(path string) (Board, error) {
	var b Board
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return b, nil
	}
	_, err := toml.DecodeFile(path, &b)
	return b, err
}

// Save writes b to path in TOML form, for a CLI subcommand that wants
// to persist the defaults it was run with.
func Save(b Board, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(b)
}
