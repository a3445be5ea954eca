package connectivity

import (
	"context"
	"fmt"
	"net"
)

// Link reports whether the network is usable.
type Link interface {
	Up(ctx context.Context) bool
}

// InterfaceChecker treats the link as up when the named interface is up
// and holds a unicast IPv4 address.
type InterfaceChecker struct {
	name string

	byName func(name string) (*net.Interface, error)
	addrs  func(iface *net.Interface) ([]net.Addr, error)
}

// NewInterfaceChecker creates a checker for the named interface.
func NewInterfaceChecker(name string) *InterfaceChecker {
	return &InterfaceChecker{
		name:   name,
		byName: net.InterfaceByName,
		addrs:  (*net.Interface).Addrs,
	}
}

// Up implements Link.
func (c *InterfaceChecker) Up(context.Context) bool {
	ip, err := c.ipv4()
	return err == nil && ip != nil
}

// Address returns the interface's IPv4 address, or "" when there is none.
func (c *InterfaceChecker) Address() string {
	ip, err := c.ipv4()
	if err != nil || ip == nil {
		return ""
	}
	return ip.String()
}

func (c *InterfaceChecker) ipv4() (net.IP, error) {
	iface, err := c.byName(c.name)
	if err != nil {
		return nil, fmt.Errorf("looking up interface %s: %w", c.name, err)
	}
	if iface.Flags&net.FlagUp == 0 {
		return nil, nil
	}

	addrs, err := c.addrs(iface)
	if err != nil {
		return nil, fmt.Errorf("listing addresses of %s: %w", c.name, err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip := ipnet.IP.To4(); ip != nil && ip.IsGlobalUnicast() {
			return ip, nil
		}
	}
	return nil, nil
}
