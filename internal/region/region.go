// Package region maps the DUT's logical buffer banks to physical offsets.
//
// Every command names one input bank and one output bank. A bank is a
// 4 KiB window; its base address is the bank index shifted left by 12.
// Whether a given in/out combination is legal for an operation is an
// operation-level contract and is not checked here.
package region

import "fmt"

// Bank identifies one source/destination buffer of the DUT.
type Bank uint8

// Named banks.
const (
	DataRAMIn  Bank = 0x0
	DataRAMOut Bank = 0x1
	CmdBuffer  Bank = 0x4
	ResBuffer  Bank = 0x5
)

// Shift is the bank index to address shift.
const Shift = 12

// Size is the byte length of one bank window.
const Size = 1 << Shift

// Count is the number of bank windows in the DUT address map.
const Count = 8

// Fixed addresses used by the command layouts.
const (
	// SaltCH is the absolute address of the 32-byte hash-construction salt.
	SaltCH uint32 = 0x00A0
	// SaltCN is the absolute address of the 4-byte salt counter.
	SaltCN uint32 = 0x00C0
	// KeyInput is the offset of key material after the selector word.
	KeyInput uint32 = 0x10
	// Payload is the offset of produced payload after the output marker.
	Payload uint32 = 0x10
	// HashInput is the offset of a SHA-512 block in the input bank.
	HashInput uint32 = 0x10
)

// Verify-call input layout, relative to the input base.
const (
	VerifySignature uint32 = 0x20
	VerifyPublic    uint32 = 0x60
	VerifyDigest    uint32 = 0x80
	VerifyConstants uint32 = 0x200
)

// InputBanks lists the banks a scenario may pick for command input.
var InputBanks = [2]Bank{DataRAMIn, CmdBuffer}

// OutputBanks lists the banks a scenario may pick for results.
var OutputBanks = [2]Bank{DataRAMOut, ResBuffer}

// Address returns the physical base address of bank b.
func Address(b Bank) uint32 {
	return uint32(b) << Shift
}

// Of returns the bank containing addr.
func Of(addr uint32) Bank {
	return Bank(addr >> Shift)
}

func (b Bank) String() string {
	switch b {
	case DataRAMIn:
		return "data_ram_in"
	case DataRAMOut:
		return "data_ram_out"
	case CmdBuffer:
		return "cmd_buffer"
	case ResBuffer:
		return "res_buffer"
	default:
		return fmt.Sprintf("bank(0x%x)", uint8(b))
	}
}

// Pair is the in/out bank choice of one call.
type Pair struct {
	In  Bank
	Out Bank
}

// Default is the command buffer / result buffer pair.
var Default = Pair{In: CmdBuffer, Out: ResBuffer}

// RAM is the data RAM in / out pair.
var RAM = Pair{In: DataRAMIn, Out: DataRAMOut}
