package cmd

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/jitvm/rvsim/rvsim/sim"
)

// LoadProgram copies the loadable segments of a RISC-V ELF into the guest
// memory and returns the entrypoint.
func LoadProgram(mem *sim.Memory, f *elf.File) (uint64, error) {
	if f.Machine != elf.EM_RISCV {
		return 0, fmt.Errorf("ELF is not RISC-V, but got %q", f.Machine.String())
	}
	for i, prog := range f.Progs {
		if prog.Type == 0x70000003 {
			// RISC-V reuses the MIPS_ABIFLAGS program type to type its segment
			// with the `.riscv.attributes` section. It has zero mem size
			// because it is never loaded into memory.
			continue
		}

		r := io.Reader(io.NewSectionReader(prog, 0, int64(prog.Filesz)))
		if prog.Filesz != prog.Memsz {
			if prog.Type == elf.PT_LOAD && prog.Filesz < prog.Memsz {
				// zero-fill the BSS tail of the segment
				r = io.MultiReader(r, bytes.NewReader(make([]byte, prog.Memsz-prog.Filesz)))
			} else {
				return 0, fmt.Errorf("program segment %d has different file size (%d) than mem size (%d): filling for non PT_LOAD segments is not supported",
					i, prog.Filesz, prog.Memsz)
			}
		}
		if err := mem.SetMemoryRange(prog.Vaddr, r); err != nil {
			return 0, fmt.Errorf("failed to read program segment %d: %w", i, err)
		}
	}
	return f.Entry, nil
}
