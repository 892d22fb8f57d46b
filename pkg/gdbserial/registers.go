package gdbserial

import (
	"encoding/binary"
	"fmt"
)

// Arch describes the register layout of the debuggee.
type Arch struct {
	Name string
	// PtrSize is the size in bytes of a general purpose register.
	PtrSize int
	// ByteOrder is the order in which register bytes appear on the wire.
	ByteOrder binary.ByteOrder
	// Wide targets carry the r8-r15 registers.
	Wide bool
}

var (
	// I386Arch is a 32 bit x86 target.
	I386Arch = &Arch{Name: "386", PtrSize: 4, ByteOrder: binary.LittleEndian}
	// AMD64Arch is a 64 bit x86 target.
	AMD64Arch = &Arch{Name: "amd64", PtrSize: 8, ByteOrder: binary.LittleEndian, Wide: true}
)

// ArchByName returns the architecture called name ("386" or "amd64"). An
// empty name selects the architecture of the host.
func ArchByName(name string) (*Arch, error) {
	if name == "" {
		name = defaultArchName
	}
	switch name {
	case "386", "i386", "x86":
		return I386Arch, nil
	case "amd64", "x86_64", "x86-64":
		return AMD64Arch, nil
	}
	return nil, fmt.Errorf("unknown architecture %q", name)
}

// DefaultArch returns the architecture of the host.
func DefaultArch() *Arch {
	arch, _ := ArchByName("")
	return arch
}

// Registers is a snapshot of the general purpose registers of a thread.
// On narrow targets only the low 32 bits of each value are used and R8-R15
// are ignored.
type Registers struct {
	Xax, Xbx, Xcx, Xdx uint64
	Xsi, Xdi, Xbp, Xsp uint64

	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64

	Xip    uint64
	Xflags uint64
}

// fields returns the register values in wire order for arch.
func (regs *Registers) fields(arch *Arch) []uint64 {
	out := []uint64{regs.Xax, regs.Xbx, regs.Xcx, regs.Xdx, regs.Xsi, regs.Xdi, regs.Xbp, regs.Xsp}
	if arch.Wide {
		out = append(out, regs.R8, regs.R9, regs.R10, regs.R11, regs.R12, regs.R13, regs.R14, regs.R15)
	}
	return append(out, regs.Xip, regs.Xflags)
}

// appendRegister appends v as arch.PtrSize hex-encoded bytes in target
// memory order, so x86 values appear least significant byte first.
func (arch *Arch) appendRegister(out []byte, v uint64) []byte {
	var buf [8]byte
	switch arch.PtrSize {
	case 4:
		arch.ByteOrder.PutUint32(buf[:4], uint32(v))
	default:
		arch.ByteOrder.PutUint64(buf[:8], v)
	}
	return appendHex(out, buf[:arch.PtrSize])
}
