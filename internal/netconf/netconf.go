// Package netconf is the "configure network" / "tear down network"
// collaborator: interface address assignment, routes, and DNS. It
// shells out to ip(8) using the exact
// process-wrapper pattern internal/bridge/process.go uses for ip/ovs-vsctl,
// and renders resolv.conf with github.com/miekg/dns.
package netconf

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/sandia-minimega/pod-init/internal/agentlog"
	"github.com/sandia-minimega/pod-init/internal/specjson"
)

// ValidHostname reports whether name is an acceptable guest hostname,
// using the same domain-name grammar github.com/miekg/dns applies to
// zone names rather than a hand-rolled regexp.
func ValidHostname(name string) bool {
	_, ok := dns.IsDomainName(name + ".")
	return name != "" && ok
}

// ConfigureInterface applies an address and (optional) MTU to a guest NIC
// (the SETUPINTERFACE verb).
func ConfigureInterface(iface specjson.InterfaceSpec) error {
	if _, err := processWrapper("ip", "link", "set", iface.Name, "up"); err != nil {
		return fmt.Errorf("netconf: link set up %s: %w", iface.Name, err)
	}

	if iface.Mtu > 0 {
		if _, err := processWrapper("ip", "link", "set", iface.Name, "mtu", fmt.Sprint(iface.Mtu)); err != nil {
			return fmt.Errorf("netconf: set mtu %s: %w", iface.Name, err)
		}
	}

	for _, addr := range iface.IPAddrs {
		if _, err := processWrapper("ip", "addr", "add", addr, "dev", iface.Name); err != nil {
			return fmt.Errorf("netconf: addr add %s on %s: %w", addr, iface.Name, err)
		}
	}
	return nil
}

// ConfigureRoute adds one route (the SETUPROUTE verb).
func ConfigureRoute(route specjson.RouteSpec) error {
	args := []string{"route", "add", route.Dest}
	if route.Gateway != "" {
		args = append(args, "via", route.Gateway)
	}
	args = append(args, "dev", route.Device)

	if _, err := processWrapper("ip", args...); err != nil {
		return fmt.Errorf("netconf: route add %s: %w", route.Dest, err)
	}
	return nil
}

// TeardownInterface removes an interface's addresses and brings it down,
// the mirror of ConfigureInterface. No verb handler calls it.
func TeardownInterface(name string) error {
	if _, err := processWrapper("ip", "addr", "flush", "dev", name); err != nil {
		return fmt.Errorf("netconf: addr flush %s: %w", name, err)
	}
	if _, err := processWrapper("ip", "link", "set", name, "down"); err != nil {
		return fmt.Errorf("netconf: link set down %s: %w", name, err)
	}
	return nil
}

// WriteResolvConf renders /etc/resolv.conf from a nameserver list: the
// list is held in a dns.ClientConfig and written as one "nameserver" line
// per server. The config's Port, Timeout and Attempts are not written.
func WriteResolvConf(path string, nameservers []string) error {
	cc := &dns.ClientConfig{Servers: nameservers, Port: "53", Timeout: 5, Attempts: 2}

	var b strings.Builder
	for _, ns := range cc.Servers {
		fmt.Fprintf(&b, "nameserver %s\n", ns)
	}

	return os.WriteFile(path, []byte(b.String()), 0644)
}

// processWrapper runs an external command and logs its combined output,
// mirroring internal/bridge/process.go's processWrapper in the teacher.
func processWrapper(args ...string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("netconf: empty argument list")
	}

	start := time.Now()
	out, err := exec.Command(args[0], args[1:]...).CombinedOutput()
	agentlog.Debug("netconf: %q completed in %v: %s", strings.Join(args, " "), time.Since(start), out)
	return string(out), err
}
