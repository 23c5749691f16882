package nvml

import (
	"sort"
	"strings"

	"github.com/luwei0711/ludwig/internal/domain"
)

// MockGPUProvider provides fake GPU data for testing
type MockGPUProvider struct {
	// AvailableMiB is free memory in MiB keyed by device index string.
	AvailableMiB map[string]float64
	InitErr      error
}

func NewMockGPUProvider(availableMiB map[string]float64) *MockGPUProvider {
	return &MockGPUProvider{AvailableMiB: availableMiB}
}

func (p *MockGPUProvider) Init() error {
	return p.InitErr
}

func (p *MockGPUProvider) Shutdown() error {
	return nil
}

func (p *MockGPUProvider) DeviceCount() (int, error) {
	return len(p.AvailableMiB), nil
}

func (p *MockGPUProvider) AvailableMemory() (map[string]float64, error) {
	out := make(map[string]float64, len(p.AvailableMiB))
	for id, free := range p.AvailableMiB {
		out[id] = free
	}
	return out, nil
}

func (p *MockGPUProvider) VisibleDevices() (string, error) {
	indices := make([]string, 0, len(p.AvailableMiB))
	for id := range p.AvailableMiB {
		indices = append(indices, id)
	}
	sort.Strings(indices)
	return strings.Join(indices, ","), nil
}

// Compile-time interface check
var _ domain.GPUProvider = (*MockGPUProvider)(nil)
