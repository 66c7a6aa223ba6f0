// Package boardcfg loads the per-board flash geometry and format limits
// that original_source bakes in at compile time through
// boards/<board>/xipfs_config.h. Representing the same constants as a
// YAML-loadable Go struct lets a host integrator describe a new board
// without recompiling the file system core.
package boardcfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"limits"
)

// Profile describes one board's flash geometry and xipfs format limits.
// The zero value is not usable; use Default or Load.
type Profile struct {
	Name            string `yaml:"name"`
	Magic           uint32 `yaml:"magic"`
	NVMBase         uint64 `yaml:"nvm_base"`
	EraseState      byte   `yaml:"erase_state"`
	PageSize        int    `yaml:"page_size"`
	PageCount       int    `yaml:"page_count"`
	WriteBlockAlign int    `yaml:"write_block_align"`
	WriteBlockSize  int    `yaml:"write_block_size"`

	PathMax     int `yaml:"path_max"`
	Slots       int `yaml:"slots"`
	MaxOpenDesc int `yaml:"max_open_desc"`
	ArgcMax     int `yaml:"argc_max"`
	StackSize   int `yaml:"stack_size"`
}

// DefaultMagic is XIPFS_MAGIC from original_source/include/xipfs.h.
const DefaultMagic = 0xf9d3b6cb

// Default returns the dwm1001 reference board profile shipped by
// original_source/boards/dwm1001/xipfs_config.h.
func Default() Profile {
	l := limits.Default()
	return Profile{
		Name:            "dwm1001",
		Magic:           DefaultMagic,
		NVMBase:         0,
		EraseState:      limits.EraseByte,
		PageSize:        4096,
		PageCount:       128,
		WriteBlockAlign: 4,
		WriteBlockSize:  4,
		PathMax:         l.PathMax,
		Slots:           l.Slots,
		MaxOpenDesc:     l.MaxOpenDesc,
		ArgcMax:         l.ArgcMax,
		StackSize:       l.StackSize,
	}
}

// Load reads a board profile from a YAML file, filling any field the
// file omits from Default().
func Load(path string) (Profile, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("boardcfg: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("boardcfg: parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Limits extracts the wire-format and resource limits this profile
// carries.
func (p Profile) Limits() limits.Limits {
	return limits.Limits{
		PathMax:     p.PathMax,
		Slots:       p.Slots,
		MaxOpenDesc: p.MaxOpenDesc,
		ArgcMax:     p.ArgcMax,
		StackSize:   p.StackSize,
	}
}

// Validate reports whether the profile describes a usable board.
func (p Profile) Validate() error {
	if p.PageSize <= 0 || p.PageSize&(p.PageSize-1) != 0 {
		return fmt.Errorf("boardcfg: page size %d is not a positive power of two", p.PageSize)
	}
	if p.PageCount <= 0 {
		return fmt.Errorf("boardcfg: page count must be positive")
	}
	if p.WriteBlockAlign <= 0 || p.WriteBlockSize <= 0 {
		return fmt.Errorf("boardcfg: write block alignment/size must be positive")
	}
	if !p.Limits().Valid() {
		return fmt.Errorf("boardcfg: invalid format limits")
	}
	return nil
}
