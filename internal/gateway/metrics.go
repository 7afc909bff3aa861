package gateway

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// SystemMetrics is the resource snapshot pushed to terminal clients on
// the 2s metrics tick.
type SystemMetrics struct {
	CPULoad1    float64 `json:"cpu_load_1"`
	CPULoad5    float64 `json:"cpu_load_5"`
	CPULoad15   float64 `json:"cpu_load_15"`
	CPUPercent  float64 `json:"cpu_percent"`
	CPUCores    int     `json:"cpu_cores"`
	MemUsedMB   float64 `json:"mem_used_mb"`
	MemTotalMB  float64 `json:"mem_total_mb"`
	MemPercent  float64 `json:"mem_percent"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	Goroutines  int     `json:"goroutines"`
	UptimeSec   int64   `json:"uptime_sec"`
	PipelineMs  float64 `json:"pipeline_ms"` // engine tick-to-publish latency
	LatencyP50  float64 `json:"latency_p50"`
	LatencyP95  float64 `json:"latency_p95"`
	LatencyP99  float64 `json:"latency_p99"`
	TS          string  `json:"ts"`
}

// pipelineLatencyKey is where the engine publishes its pipeline
// latency gauge; must match the engine's Redis writer.
const pipelineLatencyKey = "metrics:scalperd:pipeline_ms"

// prevCPU holds the previous /proc/stat aggregate so CPUPercent can be
// derived from the delta between consecutive collections.
var prevCPU struct {
	idle  uint64
	total uint64
}

// CollectMetrics gathers process and host resource usage. Host-level
// numbers come from procfs and stay zero on other platforms.
func CollectMetrics(start time.Time) SystemMetrics {
	m := SystemMetrics{
		Goroutines: runtime.NumGoroutine(),
		CPUCores:   runtime.NumCPU(),
		UptimeSec:  int64(time.Since(start).Seconds()),
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
	}

	fillCPU(&m)
	fillLoadAvg(&m)
	fillMemory(&m)

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024
	m.SysMB = float64(ms.Sys) / 1024 / 1024
	m.GCRuns = ms.NumGC

	return m
}

func fillCPU(m *SystemMetrics) {
	idle, total, ok := readCPUTicks()
	if !ok {
		return
	}
	if prevCPU.total > 0 && total > prevCPU.total {
		dTotal := float64(total - prevCPU.total)
		dIdle := float64(idle - prevCPU.idle)
		m.CPUPercent = (1.0 - dIdle/dTotal) * 100.0
	}
	prevCPU.idle, prevCPU.total = idle, total
}

// readCPUTicks returns the idle and total jiffy counters from the
// aggregate "cpu" line of /proc/stat.
func readCPUTicks() (idle, total uint64, ok bool) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, raw := range fields[1:] {
			v, _ := strconv.ParseUint(raw, 10, 64)
			total += v
			if i == 3 { // 4th counter is idle
				idle = v
			}
		}
		return idle, total, true
	}
	return 0, 0, false
}

func fillLoadAvg(m *SystemMetrics) {
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 3 {
		return
	}
	m.CPULoad1, _ = strconv.ParseFloat(fields[0], 64)
	m.CPULoad5, _ = strconv.ParseFloat(fields[1], 64)
	m.CPULoad15, _ = strconv.ParseFloat(fields[2], 64)
}

func fillMemory(m *SystemMetrics) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return
	}
	defer f.Close()

	var totalKB, availKB uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			availKB, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	if totalKB == 0 {
		return
	}
	usedKB := totalKB - availKB
	m.MemTotalMB = float64(totalKB) / 1024
	m.MemUsedMB = float64(usedKB) / 1024
	m.MemPercent = float64(usedKB) / float64(totalKB) * 100
}

// ReadPipelineLatency reads the engine's tick-to-publish latency gauge
// from Redis. The second return is false when the gauge is absent or
// Redis is unreachable.
func ReadPipelineLatency(ctx context.Context, rdb *goredis.Client) (float64, bool) {
	if rdb == nil {
		return 0, false
	}
	cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	val, err := rdb.Get(cctx, pipelineLatencyKey).Result()
	if err != nil {
		return 0, false
	}
	ms, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
