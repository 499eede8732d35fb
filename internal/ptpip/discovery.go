package ptpip

import (
	"context"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// ServiceType is the DNS-SD service type PTP/IP responders advertise.
const ServiceType = "_ptp._tcp"

const discoveryDomain = "local."

// Responder is a PTP/IP responder found on the network.
type Responder struct {
	Instance  string   `json:"instance"`
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Addresses []string `json:"addresses"`
}

// Address returns host:port for the first resolved address.
func (r Responder) Address() string {
	host := r.Host
	if len(r.Addresses) > 0 {
		host = r.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(r.Port))
}

// Discover browses for PTP/IP responders for the given duration.
// iface restricts the query to one network interface when non-empty.
// Entries for the same instance seen on several interfaces are merged.
func Discover(ctx context.Context, wait time.Duration, iface string) ([]Responder, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var opts []zeroconf.ClientOption
	if iface != "" {
		ifi, err := net.InterfaceByName(iface)
		if err != nil {
			return nil, err
		}
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*ifi}))
	}

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(ctx, ServiceType, discoveryDomain, entries, removed, opts...)
	}()

	found := make(map[string]*Responder)
	var order []string
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			r := responderFromEntry(entry)
			if existing, seen := found[r.Instance]; seen {
				for _, a := range r.Addresses {
					if !slices.Contains(existing.Addresses, a) {
						existing.Addresses = append(existing.Addresses, a)
					}
				}
				continue
			}
			found[r.Instance] = &r
			order = append(order, r.Instance)
		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			delete(found, entry.Instance)
		case <-ctx.Done():
			out := make([]Responder, 0, len(found))
			for _, name := range order {
				if r, ok := found[name]; ok {
					out = append(out, *r)
				}
			}
			return out, nil
		case err := <-browseErr:
			if err != nil {
				return nil, err
			}
			browseErr = nil
		}
	}
}

func responderFromEntry(entry *zeroconf.ServiceEntry) Responder {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return Responder{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      entry.Port,
		Addresses: addrs,
	}
}
