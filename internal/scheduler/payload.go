package scheduler

import (
	"net"
	"os"

	"github.com/nas-panel/telemetry-publisher/internal/probe"
)

// timestampLayout is wall-clock local time with no zone suffix, matching
// the canonical payload literal and the original Python
// datetime.now().isoformat() (not .utcnow()) — spec.md §9 open question,
// resolved here.
const timestampLayout = "2006-01-02T15:04:05"

// Payload is the JSON object published on every tick.
type Payload struct {
	Hostname  string                      `json:"hostname"`
	IP        string                      `json:"ip"`
	Timestamp string                      `json:"timestamp"`
	CPU       *probe.CPU                  `json:"cpu,omitempty"`
	Memory    *probe.Memory               `json:"memory,omitempty"`
	Storage   *probe.Storage              `json:"storage,omitempty"`
	Network   *probe.Network              `json:"network,omitempty"`
	Custom    map[string]probe.CustomValue `json:"custom,omitempty"`
}

// buildPayload assembles a Payload from one probe Snapshot.
func buildPayload(hostname, ip string, snap *probe.Snapshot) Payload {
	p := Payload{
		Hostname:  resolveHostname(hostname),
		IP:        resolveIP(ip),
		Timestamp: snap.SampledAt.Format(timestampLayout),
		CPU:       snap.CPU,
		Memory:    snap.Memory,
		Storage:   snap.Storage,
		Network:   snap.Network,
	}
	if len(snap.Custom) > 0 {
		p.Custom = snap.Custom
	}
	return p
}

// resolveHostname sniffs the OS hostname when configured as "auto".
func resolveHostname(configured string) string {
	if configured != "auto" {
		return configured
	}
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

// resolveIP picks the first non-loopback IPv4 address when configured as
// "auto".
func resolveIP(configured string) string {
	if configured != "auto" {
		return configured
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
