// Package hostinfo probes the machine the adapter runs on: total system
// memory for the load preflight and GPU presence for device selection.
package hostinfo

import (
	"runtime"

	"github.com/elastic/go-sysinfo"
	"github.com/jaypipes/ghw"

	"github.com/vlmbench/llava-runner/pkg/logging"
	"github.com/vlmbench/llava-runner/pkg/vlm"
)

// TotalRAM returns total system memory in bytes, or 0 when it cannot be
// determined.
func TotalRAM(log logging.Logger) uint64 {
	host, err := sysinfo.Host()
	if err != nil {
		log.Warnf("Could not read host info: %s", err)
		return 0
	}
	mem, err := host.Memory()
	if err != nil {
		log.Warnf("Could not read host RAM size: %s", err)
		return 0
	}
	return mem.Total
}

// HasAccelerator reports whether any graphics device is visible to the
// host.
func HasAccelerator(log logging.Logger) bool {
	gpu, err := ghw.GPU()
	if err != nil {
		log.Warnf("Could not probe GPUs: %s", err)
		return false
	}
	return len(gpu.GraphicsCards) > 0
}

// DefaultDevice picks the device sub-models are moved to after the CPU
// load step: MPS on Apple Silicon, CUDA when a GPU is visible, CPU
// otherwise.
func DefaultDevice(log logging.Logger) vlm.Device {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return vlm.DeviceMPS
	}
	if HasAccelerator(log) {
		return vlm.DeviceCUDA
	}
	return vlm.DeviceCPU
}
