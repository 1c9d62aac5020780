package host

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bgsync/internal/constraints"
)

const DefaultLowBattery = 15

// SysfsProbe reads power and network state from sysfs and the interface list.
// Anything it cannot determine is left unknown.
type SysfsProbe struct {
	// Root defaults to /sys/class/power_supply.
	Root string
	// LowBattery is the capacity percentage at or below which the battery is low.
	LowBattery int
	// MeteredInterfaces are interface name prefixes treated as metered (e.g. "wwan", "ppp").
	MeteredInterfaces []string
	// Interfaces overrides net.Interfaces (tests).
	Interfaces func() ([]net.Interface, error)
}

func (p SysfsProbe) Conditions(ctx context.Context) (constraints.Conditions, error) {
	_ = ctx
	var c constraints.Conditions
	p.power(&c)
	p.network(&c)
	return c, nil
}

func (p SysfsProbe) power(c *constraints.Conditions) {
	root := p.Root
	if root == "" {
		root = "/sys/class/power_supply"
	}
	low := p.LowBattery
	if low <= 0 {
		low = DefaultLowBattery
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	var (
		sawMains, online bool
		sawBattery       bool
		charging         bool
		lowest           = 101
	)
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		switch readTrim(filepath.Join(dir, "type")) {
		case "Mains", "USB":
			sawMains = true
			if readTrim(filepath.Join(dir, "online")) == "1" {
				online = true
			}
		case "Battery":
			sawBattery = true
			if st := readTrim(filepath.Join(dir, "status")); st == "Charging" || st == "Full" {
				charging = true
			}
			if n, err := strconv.Atoi(readTrim(filepath.Join(dir, "capacity"))); err == nil && n < lowest {
				lowest = n
			}
		}
	}
	if sawMains || sawBattery {
		v := online || charging
		c.Charging = &v
	}
	if sawBattery && lowest <= 100 {
		v := lowest <= low && !(online || charging)
		c.BatteryLow = &v
	}
}

func (p SysfsProbe) network(c *constraints.Conditions) {
	list := p.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		return
	}
	connected, metered := false, false
	meteredOnly := true
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || ifc.Flags&net.FlagUp == 0 {
			continue
		}
		connected = true
		if p.isMetered(ifc.Name) {
			metered = true
		} else {
			meteredOnly = false
		}
	}
	c.Connected = &connected
	if connected {
		m := metered && meteredOnly
		c.Metered = &m
	}
}

func (p SysfsProbe) isMetered(name string) bool {
	for _, prefix := range p.MeteredInterfaces {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func readTrim(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
