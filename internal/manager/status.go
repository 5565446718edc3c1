package manager

import (
	"time"

	"github.com/flemzord/tierllm/internal/adaptive"
	"github.com/flemzord/tierllm/internal/resource"
)

// InitializationStatus describes the model load state.
type InitializationStatus struct {
	Initialized  bool      `json:"initialized"`
	Initializing bool      `json:"initializing"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitzero"`
}

// Status is an operational snapshot of the manager.
type Status struct {
	MemoryPressure    resource.Level  `json:"memory_pressure"`
	MemoryTier        resource.Tier   `json:"memory_tier"`
	AvailableMemoryGB float64         `json:"available_memory_gb"`
	UsedMemoryGB      float64         `json:"used_memory_gb"`
	TotalMemoryGB     float64         `json:"total_memory_gb"`
	SwapUsedGB        float64         `json:"swap_used_gb"`
	MemoryPercent     float64         `json:"memory_percent"`
	ModelLoaded       bool            `json:"model_loaded"`
	EmergencyMode     bool            `json:"emergency_mode"`
	CurrentParameters adaptive.Params `json:"current_parameters"`
	// LoadedParameters are the settings the engine was loaded with. They
	// differ from CurrentParameters after a retune without reload.
	LoadedParameters *adaptive.Params     `json:"loaded_parameters,omitempty"`
	Profile          string               `json:"profile"`
	Dialect          string               `json:"dialect"`
	Engine           string               `json:"engine"`
	Sessions         int                  `json:"sessions"`
	Stale            bool                 `json:"stale,omitempty"`
	Initialization   InitializationStatus `json:"initialization"`
}

// Status reports memory classification, parameters and load state. It
// samples memory but changes nothing else.
func (m *Manager) Status() Status {
	snap := m.monitor.Snapshot()
	m.metrics.observeSnapshot(snap)
	_, current := m.tuner.Current()

	st := Status{
		MemoryPressure:    snap.Level,
		MemoryTier:        snap.Tier,
		AvailableMemoryGB: snap.AvailableGB(),
		UsedMemoryGB:      snap.UsedGB(),
		TotalMemoryGB:     snap.TotalGB(),
		SwapUsedGB:        snap.SwapUsedGB(),
		MemoryPercent:     snap.UsagePercent,
		EmergencyMode:     snap.Emergency,
		CurrentParameters: current,
		Profile:           m.opts.Profile.Name,
		Dialect:           m.opts.Dialect.Name(),
		Engine:            m.engine.Name(),
		Sessions:          m.store.Len(),
		Stale:             snap.Stale,
	}

	m.mu.Lock()
	st.ModelLoaded = m.state == stateReady
	if m.hasLoaded {
		loaded := m.loaded
		st.LoadedParameters = &loaded
	}
	st.Initialization = InitializationStatus{
		Initialized:  m.state == stateReady,
		Initializing: m.state == stateInitializing,
		Error:        m.initErr,
		Timestamp:    m.initAt,
	}
	m.mu.Unlock()
	return st
}

// Healthy reports whether the manager can serve requests: the last load
// did not fail and memory is not in emergency.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	failed := m.state == stateFailed
	m.mu.Unlock()
	return !failed && !m.monitor.IsEmergency()
}

// LogStatus writes the memory status at info level.
func (m *Manager) LogStatus() {
	st := m.Status()
	m.logger.Info("memory status",
		"pressure", st.MemoryPressure.String(),
		"tier", st.MemoryTier.String(),
		"available_gb", st.AvailableMemoryGB,
		"used_gb", st.UsedMemoryGB,
		"swap_used_gb", st.SwapUsedGB,
		"emergency", st.EmergencyMode,
		"model_loaded", st.ModelLoaded,
		"sessions", st.Sessions,
	)
}
