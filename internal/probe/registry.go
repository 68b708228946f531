package probe

import (
	"time"

	"github.com/nas-panel/telemetry-publisher/internal/logger"
)

// Registry holds the built-in probes plus every configured custom probe,
// and assembles one Snapshot per Scheduler tick. A failing probe never
// aborts the tick: its field is omitted (built-in) or reported as an
// error (custom).
type Registry struct {
	cpu     *CPUProbe
	memory  *MemoryProbe
	storage *StorageProbe
	network *NetworkProbe
	custom  []CustomProbe
}

// New builds a Registry with the given built-ins (any may be nil to skip
// that section entirely) and custom probes.
func New(cpu *CPUProbe, memory *MemoryProbe, storage *StorageProbe, network *NetworkProbe, custom []CustomProbe) *Registry {
	return &Registry{cpu: cpu, memory: memory, storage: storage, network: network, custom: custom}
}

// Collect samples every probe and assembles a Snapshot. It never returns
// an error: per-probe failures are isolated into the Snapshot itself.
func (r *Registry) Collect() *Snapshot {
	snap := &Snapshot{SampledAt: time.Now(), Custom: make(map[string]CustomValue)}

	if r.cpu != nil {
		if v, err := r.cpu.Sample(); err != nil {
			logger.DebugF("cpu probe failed: %v", err)
		} else {
			snap.CPU = v
		}
	}
	if r.memory != nil {
		if v, err := r.memory.Sample(); err != nil {
			logger.DebugF("memory probe failed: %v", err)
		} else {
			snap.Memory = v
		}
	}
	if r.storage != nil {
		if v, err := r.storage.Sample(); err != nil {
			logger.DebugF("storage probe failed: %v", err)
		} else {
			snap.Storage = v
		}
	}
	if r.network != nil {
		if v, err := r.network.Sample(); err != nil {
			logger.DebugF("network probe failed: %v", err)
		} else {
			snap.Network = v
		}
	}

	for _, p := range r.custom {
		value, unit, err := p.Sample()
		if err != nil {
			logger.DebugF("custom probe %q failed: %v", p.Name(), err)
			snap.Custom[p.Name()] = CustomValue{Type: p.Kind(), Error: err.Error()}
			continue
		}
		snap.Custom[p.Name()] = CustomValue{Value: value, Unit: unit, Type: p.Kind()}
	}

	return snap
}
