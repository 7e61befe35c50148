package device

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// isaInfo captures the vector width the host offers. Kernels align their
// parallel grain to the lane count; the name shows up in Engine.Name and the
// startup log.
type isaInfo struct {
	name  string
	lanes int // float32 lanes per vector register
}

func detectISA() isaInfo {
	switch runtime.GOARCH {
	case "amd64":
		if cpu.X86.HasAVX512F {
			return isaInfo{name: "avx512", lanes: 16}
		}
		if cpu.X86.HasAVX2 {
			return isaInfo{name: "avx2", lanes: 8}
		}
		if cpu.X86.HasSSE42 {
			return isaInfo{name: "sse4.2", lanes: 4}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			return isaInfo{name: "neon", lanes: 4}
		}
	}
	return isaInfo{name: "generic", lanes: 1}
}
