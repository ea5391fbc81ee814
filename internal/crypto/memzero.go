package crypto

import (
	"crypto/subtle"
	"runtime"
)

// Wipe zeroes b. This is best-effort and aims to keep the compiler from
// eliding the write.
//
//go:noinline
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
	runtime.KeepAlive(&b)
}
