package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage holds CPU and memory figures for one worker process.
type Usage struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// UsageCollector samples worker processes on an interval and exports
// the figures as gauges labelled by app and slot.
type UsageCollector struct {
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	latest map[string]Usage
	procs  map[int32]*process.Process // kept between samples so CPUPercent has a baseline

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewUsageCollector(interval time.Duration, logger *slog.Logger) *UsageCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	labels := []string{"app", "slot"}
	return &UsageCollector{
		interval: interval,
		logger:   logger,
		latest:   map[string]Usage{},
		procs:    map[int32]*process.Process{},
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "cpu_percent",
			Help: "CPU usage percentage of worker processes.",
		}, labels),
		memoryMB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "memory_mb",
			Help: "Resident memory of worker processes in MB.",
		}, labels),
		numFDs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "num_fds",
			Help: "Open file descriptors of worker processes (Unix only).",
		}, labels),
	}
}

func (c *UsageCollector) Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{c.cpuPercent, c.memoryMB}
	if runtime.GOOS != "windows" {
		cs = append(cs, c.numFDs)
	}
	for _, col := range cs {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples the pids returned by list until ctx is done or Stop is called.
func (c *UsageCollector) Start(ctx context.Context, list func() map[string]int32) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(list())
			}
		}
	}()
}

func (c *UsageCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect samples every named pid once. Workers no longer listed are
// dropped from the gauges.
func (c *UsageCollector) Collect(pids map[string]int32) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		p, ok := c.procs[pid]
		if !ok {
			np, err := process.NewProcess(pid)
			if err != nil {
				c.logger.Debug("worker usage unavailable", "name", name, "pid", pid, "error", err)
				continue
			}
			p = np
			c.procs[pid] = p
		}
		u, err := sample(p, name, now)
		if err != nil {
			c.logger.Debug("worker usage unavailable", "name", name, "pid", pid, "error", err)
			continue
		}
		c.latest[name] = u
		app, slot := splitInstance(name)
		c.cpuPercent.WithLabelValues(app, slot).Set(u.CPUPercent)
		c.memoryMB.WithLabelValues(app, slot).Set(u.MemoryMB)
		if runtime.GOOS != "windows" && u.NumFDs > 0 {
			c.numFDs.WithLabelValues(app, slot).Set(float64(u.NumFDs))
		}
	}

	live := make(map[int32]bool, len(pids))
	for _, pid := range pids {
		live[pid] = true
	}
	for pid := range c.procs {
		if !live[pid] {
			delete(c.procs, pid)
		}
	}
	for name := range c.latest {
		if _, ok := pids[name]; !ok {
			delete(c.latest, name)
			app, slot := splitInstance(name)
			c.cpuPercent.DeleteLabelValues(app, slot)
			c.memoryMB.DeleteLabelValues(app, slot)
			c.numFDs.DeleteLabelValues(app, slot)
		}
	}
}

// Latest returns the most recent sample of the named worker.
func (c *UsageCollector) Latest(name string) (Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.latest[name]
	return u, ok
}

// Sample reads the current usage of pid once.
func Sample(pid int32) (Usage, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	return sample(p, strconv.Itoa(int(pid)), time.Now())
}

func sample(p *process.Process, name string, ts time.Time) (Usage, error) {
	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		cpu = 0
	}
	threads, err := p.NumThreads()
	if err != nil {
		threads = 0
	}
	u := Usage{
		PID:        p.Pid,
		Name:       name,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		NumThreads: threads,
		Timestamp:  ts,
	}
	if runtime.GOOS != "windows" {
		if fds, err := p.NumFDs(); err == nil {
			u.NumFDs = fds
		}
	}
	return u, nil
}

// splitInstance splits "edge-2" into ("edge", "2"); names without a numeric
// suffix get slot "0".
func splitInstance(name string) (app, slot string) {
	i := strings.LastIndex(name, "-")
	if i > 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			return name[:i], name[i+1:]
		}
	}
	return name, "0"
}
