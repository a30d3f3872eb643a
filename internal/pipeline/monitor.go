package pipeline

import (
	"runtime"
)

// MemStats summarizes memory usage information.
type MemStats struct {
	AllocBytes uint64 `json:"alloc_bytes" yaml:"alloc_bytes"`
	SysBytes   uint64 `json:"sys_bytes" yaml:"sys_bytes"`
	NumGC      uint32 `json:"num_gc" yaml:"num_gc"`
	Goroutines int    `json:"goroutines" yaml:"goroutines"`
}

// GetMemStats captures current memory statistics. Frames are large, so a
// leaking capture loop shows up here first.
func GetMemStats() MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemStats{
		AllocBytes: m.Alloc,
		SysBytes:   m.Sys,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}
