//go:build amd64

package pwb

import "unsafe"

// Implemented in pwb_amd64.s. pwb always issues CLWB; there is no
// CLFLUSHOPT or CLFLUSH variant and no CPU feature detection, so every
// amd64 build requires a CPU that supports CLWB.
//
//go:noescape
func pwb(addr unsafe.Pointer)

//go:noescape
func pfence()

//go:noescape
func psync()
