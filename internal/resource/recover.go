package resource

import (
	"runtime"
	"runtime/debug"
)

func forceGC() { runtime.GC() }

func releaseToOS() { debug.FreeOSMemory() }

// Collect runs a single garbage-collection pass. It is the cheap,
// opportunistic variant used after history mutations.
func (m *Monitor) Collect() {
	defer m.recoverPanic("collect")
	m.collects.Add(1)
	m.gc()
}

// Recover runs the policy's garbage-collection passes, optionally returns
// freed heap to the OS, and drops the cached classification so the next
// reading reflects the result. It never panics.
func (m *Monitor) Recover() {
	defer m.recoverPanic("recover")
	m.recoveries.Add(1)

	before := m.Snapshot()
	passes := max(m.policy.RecoveryPasses, 1)
	for range passes {
		m.gc()
	}
	if m.policy.ReleaseToOS {
		m.release()
	}
	m.invalidate()
	after := m.Snapshot()

	m.logger.Warn("emergency memory recovery",
		"passes", passes,
		"release_to_os", m.policy.ReleaseToOS,
		"available_gb_before", before.AvailableGB(),
		"available_gb_after", after.AvailableGB(),
		"pressure", after.Level.String(),
	)
}

func (m *Monitor) recoverPanic(op string) {
	if r := recover(); r != nil {
		m.logger.Error("memory "+op+" panicked", "panic", r)
	}
}
