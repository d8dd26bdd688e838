package psutil

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

// New returns a delta stat describing how much of the host the process is using. It is meant
// to be added to the pipeline delta stats.
func New() (astikit.DeltaStat, error) {
	// Create valuer
	vr, err := newValuer()
	if err != nil {
		return astikit.DeltaStat{}, fmt.Errorf("psutil: creating valuer failed: %w", err)
	}

	// Create delta stat
	return astikit.DeltaStat{
		Metadata: astikit.DeltaStatMetadata{
			Description: "Host and process resources usage",
			Label:       "Host usage",
			Name:        astifilter.DeltaStatNameHostUsage,
		},
		Valuer: vr,
	}, nil
}

var _ astikit.DeltaStatValuer = (*valuer)(nil)

type valuer struct {
	busy float64
	m    sync.Mutex // Locks busy and init
	init bool
	p    *process.Process
}

func newValuer() (vr *valuer, err error) {
	// Create valuer
	vr = &valuer{}

	// Create process
	if vr.p, err = process.NewProcess(int32(os.Getpid())); err != nil {
		err = fmt.Errorf("psutil: creating process failed: %w", err)
		return
	}
	return
}

func (vr *valuer) Value(delta time.Duration) interface{} {
	v := astifilter.DeltaStatHostUsageValue{Goroutines: runtime.NumGoroutine()}

	// Get process CPU
	if t, err := vr.p.Times(); err == nil {
		vr.m.Lock()
		busy := t.Total() - t.Idle
		if vr.init && delta > 0 {
			v.CPU.Process = astikit.Float64Ptr((busy - vr.busy) / delta.Seconds() * 100)
		}
		vr.busy = busy
		vr.init = true
		vr.m.Unlock()
	}

	// Get global CPU
	if ps, err := cpu.Percent(0, true); err == nil {
		v.CPU.Individual = ps
	}
	if ps, err := cpu.Percent(0, false); err == nil && len(ps) > 0 {
		v.CPU.Total = ps[0]
	}

	// Get load
	if s, err := load.Avg(); err == nil {
		v.Load = &astifilter.DeltaStatHostLoadValue{
			Load1:  s.Load1,
			Load5:  s.Load5,
			Load15: s.Load15,
		}
	}

	// Get memory
	if i, err := vr.p.MemoryInfo(); err == nil {
		v.Memory.Resident = i.RSS
		v.Memory.Virtual = i.VMS
	}
	if s, err := mem.VirtualMemory(); err == nil {
		v.Memory.Total = s.Total
		v.Memory.Used = s.Used
	}
	return v
}
