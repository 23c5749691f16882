//go:build !nonvml
// +build !nonvml

package nvml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/luwei0711/ludwig/internal/domain"
)

type NVMLProvider struct{}

func NewNVMLProvider() *NVMLProvider {
	return &NVMLProvider{}
}

func (p *NVMLProvider) Init() error {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("NVML init failed: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (p *NVMLProvider) Shutdown() error {
	ret := nvml.Shutdown()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("NVML shutdown failed: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (p *NVMLProvider) DeviceCount() (int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get device count: %v", nvml.ErrorString(ret))
	}
	return count, nil
}

// AvailableMemory returns free memory in MiB keyed by device index.
func (p *NVMLProvider) AvailableMemory() (map[string]float64, error) {
	count, err := p.DeviceCount()
	if err != nil {
		return nil, err
	}

	available := make(map[string]float64, count)
	for i := 0; i < count; i++ {
		device, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			continue // Skip failed device
		}

		memInfo, ret := device.GetMemoryInfo()
		if ret != nvml.SUCCESS {
			continue
		}
		available[strconv.Itoa(i)] = float64(memInfo.Free) / (1024 * 1024)
	}
	return available, nil
}

// VisibleDevices returns a CUDA-style comma-separated index list
// ("0,1,...") or "" when no device is present.
func (p *NVMLProvider) VisibleDevices() (string, error) {
	count, err := p.DeviceCount()
	if err != nil {
		return "", err
	}

	indices := make([]string, 0, count)
	for i := 0; i < count; i++ {
		indices = append(indices, strconv.Itoa(i))
	}
	return strings.Join(indices, ","), nil
}

// Compile-time interface check
var _ domain.GPUProvider = (*NVMLProvider)(nil)
