package peersvc

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	probeTimeout = 500 * time.Millisecond
	maxProbes    = 50
)

// Scan sweeps the host's /24 IPv4 networks for peers listening on port. The
// whole sweep is bounded by timeout; individual probes by probeTimeout, with
// at most maxProbes in flight. Responders are recorded in the registry and
// returned in address order.
func (s *Service) Scan(ctx context.Context, port int, timeout time.Duration) ([]Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hosts, err := localSubnetHosts()
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		s.log.Debug("No scannable local networks")
		return nil, nil
	}
	s.log.Debug("Scanning for peers", zap.Int("hosts", len(hosts)), zap.Int("port", port))

	var mu sync.Mutex
	var found []string
	group := &errgroup.Group{}
	group.SetLimit(maxProbes)
	for _, host := range hosts {
		host := host
		group.Go(func() error {
			address := net.JoinHostPort(host, strconv.Itoa(port))
			if !probe(ctx, address) {
				return nil
			}
			mu.Lock()
			found = append(found, address)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(found)
	peers := make([]Peer, 0, len(found))
	for _, address := range found {
		peer, err := s.Touch(address)
		if err != nil {
			s.log.Warn("Failed to record discovered peer", zap.String("address", address), zap.Error(err))
			peer = Peer{Address: address}
		}
		peers = append(peers, peer)
	}
	s.log.Info("Peer scan finished", zap.Int("found", len(peers)))
	return peers, nil
}

func probe(ctx context.Context, address string) bool {
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// localSubnetHosts enumerates the /24 neighborhoods of every global unicast
// IPv4 address on an up, non-loopback interface, excluding the host's own
// addresses.
func localSubnetHosts() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var hosts []string
	seen := map[string]struct{}{}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || !ip.IsGlobalUnicast() {
				continue
			}
			for _, host := range subnetHosts(ip) {
				if _, dup := seen[host]; dup {
					continue
				}
				seen[host] = struct{}{}
				hosts = append(hosts, host)
			}
		}
	}
	return hosts, nil
}

// subnetHosts lists the /24 neighbors of ip, excluding ip itself.
func subnetHosts(ip net.IP) []string {
	ip = ip.To4()
	if ip == nil {
		return nil
	}
	hosts := make([]string, 0, 253)
	for octet := 1; octet <= 254; octet++ {
		if int(ip[3]) == octet {
			continue
		}
		host := net.IPv4(ip[0], ip[1], ip[2], byte(octet))
		hosts = append(hosts, host.String())
	}
	return hosts
}
