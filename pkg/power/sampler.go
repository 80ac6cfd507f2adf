package power

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// LoadSampler reports CPU utilization as a percentage (0-100).
type LoadSampler interface {
	CPUPercent(ctx context.Context) (float64, error)
}

// MemoryReader is optionally implemented by samplers that also report RAM.
type MemoryReader interface {
	MemoryPercent(ctx context.Context) (float64, error)
}

// SystemSampler reads host CPU and memory via gopsutil.
type SystemSampler struct{}

// CPUPercent returns utilization since the previous call.
func (SystemSampler) CPUPercent(ctx context.Context) (float64, error) {
	p, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	return p[0], nil
}

// MemoryPercent returns used RAM as a percentage.
func (SystemSampler) MemoryPercent(ctx context.Context) (float64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

// SamplerFunc adapts a function to LoadSampler.
type SamplerFunc func(ctx context.Context) (float64, error)

func (f SamplerFunc) CPUPercent(ctx context.Context) (float64, error) {
	return f(ctx)
}
