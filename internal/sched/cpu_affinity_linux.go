//go:build linux

package sched

import "golang.org/x/sys/unix"

// applyAffinity pins the calling OS thread to the given core ids via
// sched_setaffinity. Best-effort: an error here (insufficient
// permission, invalid core id) is not fatal to the simulation, it just
// leaves the CPU unpinned.
func applyAffinity(cores []int) {
	if len(cores) == 0 {
		return
	}
	var set unix.CPUSet
	set.Zero()
	for _, c := range cores {
		if c >= 0 {
			set.Set(c)
		}
	}
	_ = unix.SchedSetaffinity(0, &set)
}
