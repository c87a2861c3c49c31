//go:build debug_mem_utils

package memutils

import "encoding/binary"

const (
	// DebugEnabled is true when memutils is built with the debug_mem_utils build tag
	DebugEnabled = true
	// freedMagicValue is a 4-byte pattern copied across the payload of every freed allocation
	freedMagicValue uint32 = 0x7F84E666
)

// PoisonFreed writes an easy-to-identify marker across the provided payload so that reads
// through a dangling pointer are obvious in a debugger.
// This method no-ops unless the debug_mem_utils build tag is present.
func PoisonFreed(data []byte) {
	for len(data) >= 4 {
		binary.LittleEndian.PutUint32(data, freedMagicValue)
		data = data[4:]
	}
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
