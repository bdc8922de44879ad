//go:build !amd64

package pwb

import "unsafe"

// On non-amd64 targets there is no portable cache-line flush instruction
// available to this package, so persistence degrades to shared-memory-only
// semantics: the data survives process crashes (it's in the mapped file)
// but not power loss before the next fsync of the backing file. This
// matches the original's PWB_IS_NOP configuration.
func pwb(addr unsafe.Pointer) {}

func pfence() {}

func psync() {}
