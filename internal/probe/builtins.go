package probe

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/montanaflynn/stats"
)

// cpuTimes is one core's /proc/stat jiffy counters (columns 1-4: user,
// nice, system, idle; the remaining columns are irrelevant to a usage
// percentage).
type cpuTimes struct {
	user, nice, system, idle uint64
}

func (t cpuTimes) total() uint64 { return t.user + t.nice + t.system + t.idle }

// CPUProbe reports overall CPU usage as the mean of each core's usage
// since the previous sample (montanaflynn/stats.Mean), since a single
// global /proc/stat line hides imbalance across cores that per-core
// smoothing preserves.
type CPUProbe struct {
	mu   sync.Mutex
	prev map[string]cpuTimes
}

func NewCPUProbe() *CPUProbe { return &CPUProbe{prev: make(map[string]cpuTimes)} }

func (p *CPUProbe) Sample() (*CPU, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return nil, fmt.Errorf("cpu probe: %w", err)
	}
	defer f.Close()

	p.mu.Lock()
	defer p.mu.Unlock()

	var usages []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || !strings.HasPrefix(fields[0], "cpu") {
			continue
		}
		label := fields[0]
		if label == "cpu" {
			continue // aggregate line; per-core lines are cpu0, cpu1, ...
		}

		cur := cpuTimes{}
		vals := make([]uint64, 4)
		ok := true
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		cur.user, cur.nice, cur.system, cur.idle = vals[0], vals[1], vals[2], vals[3]

		prev, seen := p.prev[label]
		p.prev[label] = cur
		if !seen {
			continue
		}

		totalDelta := cur.total() - prev.total()
		idleDelta := cur.idle - prev.idle
		if totalDelta == 0 {
			continue
		}
		usages = append(usages, 100*float64(totalDelta-idleDelta)/float64(totalDelta))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cpu probe: %w", err)
	}

	if len(usages) == 0 {
		return &CPU{Usage: 0}, nil
	}
	mean, err := stats.Mean(usages)
	if err != nil {
		return nil, fmt.Errorf("cpu probe: averaging core usage: %w", err)
	}
	return &CPU{Usage: mean}, nil
}

// MemoryProbe reads /proc/meminfo for a simple used/total/usage reading.
type MemoryProbe struct{}

func NewMemoryProbe() *MemoryProbe { return &MemoryProbe{} }

func (p *MemoryProbe) Sample() (*Memory, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return nil, fmt.Errorf("memory probe: %w", err)
	}
	defer f.Close()

	values := make(map[string]uint64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		n, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		values[key] = n * 1024 // /proc/meminfo reports kB
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("memory probe: %w", err)
	}

	total, ok := values["MemTotal"]
	if !ok {
		return nil, fmt.Errorf("memory probe: MemTotal not found")
	}
	available := values["MemAvailable"]
	used := total - available

	usage := 0.0
	if total > 0 {
		usage = 100 * float64(used) / float64(total)
	}
	return &Memory{Usage: usage, Total: total, Used: used}, nil
}

// StorageProbe reports capacity/used for a single mount point. disks is a
// caller-supplied list of IDs, each reported as a Disk entry; every entry
// gets the same status, taken from the mount point's free-space ratio
// rather than from S.M.A.R.T. data — real health monitoring is outside
// this system's scope.
type StorageProbe struct {
	mountPoint string
	disks      []string
}

func NewStorageProbe(mountPoint string, disks []string) *StorageProbe {
	return &StorageProbe{mountPoint: mountPoint, disks: disks}
}

func (p *StorageProbe) Sample() (*Storage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(p.mountPoint, &stat); err != nil {
		return nil, fmt.Errorf("storage probe: %w", err)
	}
	capacity := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)
	used := capacity - free

	result := &Storage{Capacity: capacity, Used: used}
	for _, d := range p.disks {
		result.Disks = append(result.Disks, Disk{ID: d, Status: diskStatus(p.mountPoint)})
	}
	return result, nil
}

func diskStatus(mountPoint string) DiskStatus {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(mountPoint, &stat); err != nil {
		return DiskError
	}
	if stat.Blocks == 0 {
		return DiskNormal
	}
	freeRatio := float64(stat.Bfree) / float64(stat.Blocks)
	switch {
	case freeRatio < 0.05:
		return DiskError
	case freeRatio < 0.15:
		return DiskWarning
	default:
		return DiskNormal
	}
}

// NetworkProbe computes bytes/sec upload and download since the previous
// sample from the monotonic time delta, smoothing the instantaneous rate
// over a short rolling window (montanaflynn/stats.Mean) so one bursty
// sample doesn't dominate the reported figure.
type NetworkProbe struct {
	iface string

	mu          sync.Mutex
	prevAt      time.Time
	prevRx      uint64
	prevTx      uint64
	haveSample  bool
	uploadHist  []float64
	downloadHist []float64
}

const networkSmoothingWindow = 5

func NewNetworkProbe(iface string) *NetworkProbe { return &NetworkProbe{iface: iface} }

func (p *NetworkProbe) Sample() (*Network, error) {
	rx, tx, err := readNetDev(p.iface)
	if err != nil {
		return nil, fmt.Errorf("network probe: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if !p.haveSample {
		p.prevAt, p.prevRx, p.prevTx, p.haveSample = now, rx, tx, true
		return &Network{Upload: 0, Download: 0}, nil
	}

	elapsed := now.Sub(p.prevAt).Seconds()
	var upload, download float64
	if elapsed > 0 {
		download = float64(rx-p.prevRx) / elapsed
		upload = float64(tx-p.prevTx) / elapsed
	}
	p.prevAt, p.prevRx, p.prevTx = now, rx, tx

	p.uploadHist = pushWindow(p.uploadHist, upload, networkSmoothingWindow)
	p.downloadHist = pushWindow(p.downloadHist, download, networkSmoothingWindow)

	smoothedUpload, err := stats.Mean(p.uploadHist)
	if err != nil {
		smoothedUpload = upload
	}
	smoothedDownload, err := stats.Mean(p.downloadHist)
	if err != nil {
		smoothedDownload = download
	}

	return &Network{Upload: smoothedUpload, Download: smoothedDownload}, nil
}

func pushWindow(hist []float64, v float64, max int) []float64 {
	hist = append(hist, v)
	if len(hist) > max {
		hist = hist[len(hist)-max:]
	}
	return hist
}

func readNetDev(iface string) (rx, tx uint64, err error) {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(parts[0]) != iface {
			continue
		}
		fields := strings.Fields(parts[1])
		if len(fields) < 9 {
			continue
		}
		rxBytes, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		txBytes, err := strconv.ParseUint(fields[8], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		return rxBytes, txBytes, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, fmt.Errorf("interface %q not found in /proc/net/dev", iface)
}
