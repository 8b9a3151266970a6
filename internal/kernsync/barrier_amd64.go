//go:build amd64 && cgo

package kernsync

/*
#include <stdint.h>

// x86-64 store fence: all prior stores become globally visible before any
// subsequent store.
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}

// x86-64 full fence: all prior memory operations complete before any
// subsequent memory operation.
static inline void mfence_impl(void) {
    __asm__ __volatile__("mfence" ::: "memory");
}
*/
import "C"

// StoreFence issues a store fence (SFENCE).
func StoreFence() {
	C.sfence_impl()
}

// FullFence issues a full memory fence (MFENCE).
func FullFence() {
	C.mfence_impl()
}
