package host

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"bgsync/internal/constraints"
)

func TestPidfileProbe(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "app.pid")
	ctx := context.Background()

	if fg, err := (PidfileProbe{Path: path}).Foreground(ctx); fg || err != nil {
		t.Fatalf("missing pidfile: fg=%v err=%v", fg, err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if fg, err := (PidfileProbe{Path: path}).Foreground(ctx); !fg || err != nil {
		t.Fatalf("own pid: fg=%v err=%v", fg, err)
	}
	_ = os.WriteFile(path, []byte("not-a-pid"), 0o600)
	if fg, _ := (PidfileProbe{Path: path}).Foreground(ctx); fg {
		t.Fatal("garbage pidfile reported foreground")
	}
}

type fakeUnits struct {
	active bool
	err    error
}

func (f fakeUnits) IsActive(context.Context, string) (bool, error) { return f.active, f.err }

func TestUnitProbe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if fg, _ := (UnitProbe{Units: fakeUnits{active: true}, Unit: "app"}).Foreground(ctx); !fg {
		t.Fatal("active unit should be foreground")
	}
	if fg, _ := (UnitProbe{Units: fakeUnits{active: true}}).Foreground(ctx); fg {
		t.Fatal("unconfigured unit should be background")
	}
	if _, err := (UnitProbe{Units: fakeUnits{err: errors.New("no bus")}, Unit: "app"}).Foreground(ctx); err == nil {
		t.Fatal("expected error")
	}

	broken := UnitProbe{Units: fakeUnits{err: errors.New("no bus")}, Unit: "app"}
	active := UnitProbe{Units: fakeUnits{active: true}, Unit: "app"}
	if fg, err := (AnyForeground{broken, active}).Foreground(ctx); !fg || err != nil {
		t.Fatalf("any = %v, %v", fg, err)
	}
	if fg, err := (AnyForeground{NeverForeground{}, broken}).Foreground(ctx); fg || err == nil {
		t.Fatalf("any without foreground = %v, %v", fg, err)
	}
}

func writeSupply(t *testing.T, root, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for k, v := range files {
		if err := os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func ifaces(list ...net.Interface) func() ([]net.Interface, error) {
	return func() ([]net.Interface, error) { return list, nil }
}

func TestSysfsProbe(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSupply(t, root, "AC", map[string]string{"type": "Mains", "online": "0"})
	writeSupply(t, root, "BAT0", map[string]string{"type": "Battery", "status": "Discharging", "capacity": "9"})

	p := SysfsProbe{
		Root:              root,
		MeteredInterfaces: []string{"wwan"},
		Interfaces: ifaces(
			net.Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
			net.Interface{Name: "wwan0", Flags: net.FlagUp},
		),
	}
	c, err := p.Conditions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Charging == nil || *c.Charging {
		t.Fatalf("charging = %v", c.Charging)
	}
	if c.BatteryLow == nil || !*c.BatteryLow {
		t.Fatalf("battery low = %v", c.BatteryLow)
	}
	if c.Connected == nil || !*c.Connected || c.Metered == nil || !*c.Metered {
		t.Fatalf("network = %v/%v", c.Connected, c.Metered)
	}
	if c.Idle != nil {
		t.Fatal("idle should be unknown")
	}

	unmet := constraints.Check(constraints.Constraints{
		NetworkType:      constraints.NetworkUnmetered,
		BatteryNotLow:    true,
		RequiresCharging: true,
	}, c)
	if len(unmet) != 3 {
		t.Fatalf("unmet = %v", unmet)
	}
}

func TestSysfsProbeUnknownHost(t *testing.T) {
	t.Parallel()
	p := SysfsProbe{Root: filepath.Join(t.TempDir(), "missing"), Interfaces: ifaces()}
	c, _ := p.Conditions(context.Background())
	if c.Charging != nil || c.BatteryLow != nil {
		t.Fatalf("power should be unknown: %+v", c)
	}
	if c.Connected == nil || *c.Connected {
		t.Fatal("no interfaces means offline")
	}
	if len(constraints.Check(constraints.Constraints{RequiresCharging: true}, c)) != 0 {
		t.Fatal("unknown charging state should not block")
	}
}

type fakeNotifier struct{ lines []string }

func (f *fakeNotifier) Status(s string) bool {
	f.lines = append(f.lines, s)
	return true
}

func TestStatusPromoterAndChain(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{}
	var order []string
	track := func(name string, fail bool) PromoterFunc {
		return func(context.Context) (func(), error) {
			if fail {
				return nil, errors.New(name + " failed")
			}
			order = append(order, "+"+name)
			return func() { order = append(order, "-"+name) }, nil
		}
	}

	rel, err := Chain{StatusPromoter{Notifier: n}, track("a", false)}.Promote(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rel()
	if len(n.lines) != 2 || n.lines[1] != "idle" {
		t.Fatalf("status lines = %v", n.lines)
	}

	if rel, err := (Chain{NoopPromoter{}}).Promote(context.Background()); err != nil || rel == nil {
		t.Fatalf("noop chain = %v", err)
	}

	order = nil
	if _, err := (Chain{track("a", false), track("b", true)}).Promote(context.Background()); err == nil {
		t.Fatal("expected chain failure")
	}
	if len(order) != 2 || order[1] != "-a" {
		t.Fatalf("partial chain not undone: %v", order)
	}
}
