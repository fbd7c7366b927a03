// Package kernel wires the VM core together: physical memory, the
// swap device, and the paging subsystem, built from one config at
// boot.
package kernel

import "github.com/rs/zerolog"

import "vmkern/fs"
import "vmkern/mem"
import "vmkern/vm"

/// Config_t sizes the machine.
type Config_t struct {
	// Userpages bounds the pool backing user mappings; exhausting
	// it triggers eviction.
	Userpages int
	// Kernpages backs page table pages.
	Kernpages int
	// Swapsectors sizes the swap device.
	Swapsectors int
	Log         zerolog.Logger
}

/// Kernel_t is the booted system.
type Kernel_t struct {
	Phys *mem.Physmem_t
	Swap fs.Disk_i
	Sys  *vm.Vmsys_t
}

/// Mkkernel boots the VM core from cfg.
func Mkkernel(cfg Config_t) *Kernel_t {
	if cfg.Userpages == 0 {
		cfg.Userpages = 64
	}
	if cfg.Kernpages == 0 {
		// enough page table pages for the user pool plus slack
		cfg.Kernpages = 4 * cfg.Userpages
	}
	if cfg.Swapsectors == 0 {
		cfg.Swapsectors = 8 * cfg.Userpages * vm.Sectorsperpage
	}
	phys := mem.Mkphys(cfg.Userpages, cfg.Kernpages)
	swap := fs.Mkram(cfg.Swapsectors)
	sys := vm.Mkvm(phys, swap, cfg.Log)
	return &Kernel_t{Phys: phys, Swap: swap, Sys: sys}
}
