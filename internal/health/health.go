// Package health reports hub process runtime stats for the /api/health
// endpoint.
package health

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is the health payload returned to monitoring clients.
type Snapshot struct {
	Status          string    `json:"status"`
	UptimeSeconds   float64   `json:"uptimeSeconds"`
	CPUPercent      float64   `json:"cpuPercent"`
	MemUsedPercent  float64   `json:"memUsedPercent"`
	ActiveSessions  int       `json:"activeSessions"`
	Subscribers     int       `json:"subscribers"`
	Timestamp       time.Time `json:"timestamp"`
}

// Reporter samples process-level runtime stats.
type Reporter struct {
	startedAt time.Time
}

func NewReporter() *Reporter {
	return &Reporter{startedAt: time.Now()}
}

// Snapshot samples CPU and memory. Sampling errors degrade to zero
// values rather than failing the endpoint.
func (r *Reporter) Snapshot(activeSessions, subscribers int) Snapshot {
	s := Snapshot{
		Status:         "ok",
		UptimeSeconds:  time.Since(r.startedAt).Seconds(),
		ActiveSessions: activeSessions,
		Subscribers:    subscribers,
		Timestamp:      time.Now(),
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemUsedPercent = vm.UsedPercent
	}
	return s
}
