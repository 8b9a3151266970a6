package sched

import "github.com/mkcore-project/mkcore/internal/kthread"

// stealFor runs one load-balancing pass on behalf of cpu, visiting the
// other CPUs round-robin starting at cpu.id+1 and taking at most one
// thread from each visit (highest-priority queue, number 0, first), and
// returns the threads it managed to take. Called by CPU.Dispatch when
// cpu's own queues are empty.
func (s *Scheduler) stealFor(cpu *CPU) []*kthread.Thread {
	n := len(s.cpus)
	if n < 2 {
		return nil
	}

	target := s.stealTarget()
	var stolen []*kthread.Thread
	misses := 0
	for i := 1; len(stolen) < target && misses < n; i++ {
		remote := s.cpus[(cpu.id+i)%n]
		if remote == cpu {
			continue
		}
		th := stealOneFrom(remote)
		if th == nil {
			misses++
			continue
		}
		misses = 0
		stolen = append(stolen, th)
		if s.obs != nil {
			s.obs.ObserveSteal(remote.id, cpu.id)
		}
	}
	return stolen
}

// stealTarget computes max(1, total_ready/cpu_count/2).
func (s *Scheduler) stealTarget() int {
	var total int64
	for _, cpu := range s.cpus {
		total += cpu.readyCount()
	}
	n := int64(len(s.cpus))
	target := int(total / n / 2)
	if target < 1 {
		target = 1
	}
	return target
}

// stealOneFrom tries to take exactly one eligible thread from remote:
// trylock, scan priority 0 upward, skip wired or currently-running
// threads, abort the scan the moment one is taken. Never steals from
// the idle "queue" since the idle thread is never a ready-queue member.
func stealOneFrom(remote *CPU) *kthread.Thread {
	if !remote.lock.TryLock(&remote.guard) {
		return nil
	}
	defer remote.lock.Unlock(&remote.guard)

	for p := 0; p < len(remote.queues); p++ {
		for e := remote.queues[p].Front(); e != nil; e = kthread.Next(e) {
			e.Lock()
			eligible := !e.Wired() && e != remote.running
			e.Unlock()
			if !eligible {
				continue
			}
			remote.queues[p].Remove(e)
			remote.ready--
			e.Lock()
			e.SetStolen(true)
			e.Unlock()
			return e
		}
	}
	return nil
}
