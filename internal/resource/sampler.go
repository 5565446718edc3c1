package resource

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/sysfs"
)

// Reading is one raw observation of host memory.
type Reading struct {
	TotalBytes     uint64
	AvailableBytes uint64
	SwapTotalBytes uint64
	SwapFreeBytes  uint64
	// PhysicalCores is zero when unknown.
	PhysicalCores int
}

// Sampler produces memory readings.
type Sampler interface {
	Sample() (Reading, error)
}

// ProcSampler reads /proc/meminfo and counts physical cores from
// /proc/cpuinfo, falling back to the sysfs CPU topology.
type ProcSampler struct {
	fs     procfs.FS
	sys    sysfs.FS
	hasSys bool

	coresOnce sync.Once
	cores     int
}

// NewProcSampler opens the proc filesystem at procMount and, when it
// exists, the sys filesystem at sysMount. Empty mount points use the
// defaults (/proc, /sys).
func NewProcSampler(procMount, sysMount string) (*ProcSampler, error) {
	if procMount == "" {
		procMount = procfs.DefaultMountPoint
	}
	if sysMount == "" {
		sysMount = sysfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(procMount)
	if err != nil {
		return nil, fmt.Errorf("resource: open procfs %s: %w", procMount, err)
	}
	s := &ProcSampler{fs: fs}
	if sys, err := sysfs.NewFS(sysMount); err == nil {
		s.sys, s.hasSys = sys, true
	}
	return s, nil
}

// Sample implements Sampler.
func (s *ProcSampler) Sample() (Reading, error) {
	mi, err := s.fs.Meminfo()
	if err != nil {
		return Reading{}, fmt.Errorf("resource: read meminfo: %w", err)
	}
	if mi.MemTotal == nil {
		return Reading{}, errors.New("resource: meminfo has no MemTotal")
	}

	r := Reading{
		TotalBytes:    kib(mi.MemTotal),
		PhysicalCores: s.physicalCores(),
	}
	switch {
	case mi.MemAvailable != nil:
		r.AvailableBytes = kib(mi.MemAvailable)
	default:
		// Kernels before 3.14 lack MemAvailable.
		r.AvailableBytes = kib(mi.MemFree) + kib(mi.Buffers) + kib(mi.Cached)
	}
	r.SwapTotalBytes = kib(mi.SwapTotal)
	r.SwapFreeBytes = kib(mi.SwapFree)
	return r, nil
}

// physicalCores is computed once; the value does not change for the life
// of the process.
func (s *ProcSampler) physicalCores() int {
	s.coresOnce.Do(func() { s.cores = s.countCores() })
	return s.cores
}

// countCores prefers distinct (physical id, core id) pairs from cpuinfo.
// ARM and many virtual machines omit those fields, so the sysfs topology is
// tried next, then the processor count, then the Go runtime's count.
func (s *ProcSampler) countCores() int {
	infos, err := s.fs.CPUInfo()
	if err == nil && len(infos) > 0 && hasCoreIDs(infos) {
		seen := make(map[string]struct{}, len(infos))
		for _, ci := range infos {
			seen[ci.PhysicalID+"/"+ci.CoreID] = struct{}{}
		}
		return len(seen)
	}
	if n := s.topologyCores(); n > 0 {
		return n
	}
	if err == nil && len(infos) > 0 {
		return len(infos)
	}
	return runtime.NumCPU()
}

func hasCoreIDs(infos []procfs.CPUInfo) bool {
	for _, ci := range infos {
		if ci.CoreID == "" {
			return false
		}
	}
	return true
}

// topologyCores counts distinct (package, core) pairs under
// /sys/devices/system/cpu. It returns 0 when any topology is unreadable.
func (s *ProcSampler) topologyCores() int {
	if !s.hasSys {
		return 0
	}
	cpus, err := s.sys.CPUs()
	if err != nil || len(cpus) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(cpus))
	for _, cpu := range cpus {
		topo, err := cpu.Topology()
		if err != nil {
			return 0
		}
		seen[topo.PhysicalPackageID+"/"+topo.CoreID] = struct{}{}
	}
	return len(seen)
}

func kib(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v * 1024
}

// StaticSampler returns a fixed reading. Tests and the simulated-profile
// tooling set it directly.
type StaticSampler struct {
	mu      sync.Mutex
	reading Reading
	err     error
	calls   int
}

// NewStaticSampler returns a sampler reporting r.
func NewStaticSampler(r Reading) *StaticSampler {
	return &StaticSampler{reading: r}
}

// Set replaces the reported reading and clears any error.
func (s *StaticSampler) Set(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = r
	s.err = nil
}

// SetAvailableGB updates only the available memory.
func (s *StaticSampler) SetAvailableGB(gb float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading.AvailableBytes = uint64(gb * GiB)
}

// Fail makes subsequent samples return err.
func (s *StaticSampler) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns how many times Sample was invoked.
func (s *StaticSampler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Sample implements Sampler.
func (s *StaticSampler) Sample() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.reading, s.err
}
