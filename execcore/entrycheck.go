package execcore

import "golang.org/x/arch/arm/armasm"

// ARMEntryChecker is the default EntryChecker: it decodes the first
// instruction at a binary's entry point as ARM machine code and
// rejects anything that fails to decode. It catches the case
// spec.md's exec flag cannot by itself rule out: a record marked
// executable whose payload is actually data, left over from a write
// that set the flag before the real binary was ever copied in.
//
// Cortex-M cores (the boards original_source targets) execute Thumb,
// not ARM, code; golang.org/x/arch/arm/armasm decodes ARM mode only,
// so ARMEntryChecker judges the entry bytes as ARM encodings. A host
// targeting a Thumb-only core can supply a different EntryChecker.
type ARMEntryChecker struct{}

// CheckEntry decodes the first instruction in code.
func (ARMEntryChecker) CheckEntry(code []byte) error {
	_, err := armasm.Decode(code, armasm.ModeARM)
	return err
}
