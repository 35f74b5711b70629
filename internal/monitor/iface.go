package monitor

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

type InterfaceStatus struct {
	Name  string
	Up    bool
	State string
}

// NetlinkInspector reads link state and routes from the kernel.
type NetlinkInspector struct{}

// Interface reports the operstate of the named link. Links that do not
// report an operstate (loopback, some tunnels) count as up when the admin
// flag is set.
func (NetlinkInspector) Interface(name string) (InterfaceStatus, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return InterfaceStatus{Name: name}, fmt.Errorf("link %s: %w", name, err)
	}
	attrs := link.Attrs()
	up := attrs.OperState == netlink.OperUp ||
		(attrs.OperState == netlink.OperUnknown && attrs.Flags&net.FlagUp != 0)
	return InterfaceStatus{Name: name, Up: up, State: attrs.OperState.String()}, nil
}

// RouteInterface returns the name of the link the kernel would use to reach dst.
func (NetlinkInspector) RouteInterface(dst net.IP) (string, error) {
	routes, err := netlink.RouteGet(dst)
	if err != nil {
		return "", fmt.Errorf("route to %s: %w", dst, err)
	}
	if len(routes) == 0 {
		return "", fmt.Errorf("no route to %s", dst)
	}
	link, err := netlink.LinkByIndex(routes[0].LinkIndex)
	if err != nil {
		return "", fmt.Errorf("route to %s: %w", dst, err)
	}
	return link.Attrs().Name, nil
}
