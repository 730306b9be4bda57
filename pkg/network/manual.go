// Package network provides manual networks: operator-declared IPv4 subnets
// from which instances receive static or dynamically chosen addresses.
package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/fleetplan/pkg/deployplan"
	"github.com/3leaps/fleetplan/pkg/manifest"
)

var (
	// ErrNoCapacity indicates no dynamic address is left on the network.
	ErrNoCapacity = errors.New("network has no capacity")

	// ErrInvalidReservation indicates a reservation the network cannot honor.
	ErrInvalidReservation = errors.New("invalid network reservation")

	// ErrInvalidSubnet indicates a malformed subnet declaration.
	ErrInvalidSubnet = errors.New("invalid subnet")
)

// ReservationError describes a failed reservation on a named network.
type ReservationError struct {
	Network     string
	Description string
	IP          string
	Err         error
}

func (e *ReservationError) Error() string {
	if e.IP != "" {
		return fmt.Sprintf("network %s: %s: reserve %s: %v", e.Network, e.Description, e.IP, e.Err)
	}
	return fmt.Sprintf("network %s: %s: %v", e.Network, e.Description, e.Err)
}

func (e *ReservationError) Unwrap() error {
	return e.Err
}

type addrRange struct {
	from, to netip.Addr
}

func (r addrRange) contains(a netip.Addr) bool {
	return r.from.Compare(a) <= 0 && a.Compare(r.to) <= 0
}

type subnet struct {
	prefix   netip.Prefix
	first    netip.Addr
	last     netip.Addr
	gateway  netip.Addr
	dns      []netip.Addr
	reserved []addrRange
	static   []addrRange
}

func (s *subnet) inRanges(ranges []addrRange, a netip.Addr) bool {
	for _, r := range ranges {
		if r.contains(a) {
			return true
		}
	}
	return false
}

// Manual is a network whose subnets are declared in the manifest.
// It is safe for concurrent use.
type Manual struct {
	name    string
	subnets []*subnet
	logger  *zap.Logger

	mu    sync.Mutex
	inUse map[netip.Addr]string
}

// NewManual validates cfg and returns a network with no addresses in use.
func NewManual(cfg manifest.NetworkConfig, logger *zap.Logger) (*Manual, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Manual{
		name:   cfg.Name,
		logger: logger.With(zap.String("network", cfg.Name)),
		inUse:  make(map[netip.Addr]string),
	}
	for i, sc := range cfg.Subnets {
		s, err := parseSubnet(sc)
		if err != nil {
			return nil, fmt.Errorf("network %s subnet %d: %w", cfg.Name, i, err)
		}
		n.subnets = append(n.subnets, s)
	}
	return n, nil
}

// Name returns the network name.
func (n *Manual) Name() string {
	return n.name
}

// Gateway returns the gateway of the first subnet, if any.
func (n *Manual) Gateway() string {
	for _, s := range n.subnets {
		if s.gateway.IsValid() {
			return s.gateway.String()
		}
	}
	return ""
}

// Reserve claims the reservation's static address, or picks the lowest free
// dynamic address when the reservation is dynamic. On success the
// reservation's IP is set and it is marked reserved.
func (n *Manual) Reserve(ctx context.Context, r *deployplan.NetworkReservation, description string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil {
		return &ReservationError{Network: n.name, Description: description, Err: ErrInvalidReservation}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var (
		addr netip.Addr
		err  error
	)
	switch r.Type {
	case deployplan.ReservationStatic:
		addr, err = n.reserveStatic(r.IP, description)
	case deployplan.ReservationDynamic:
		addr, err = n.reserveDynamic(description)
	default:
		err = fmt.Errorf("%w: unknown reservation type %q", ErrInvalidReservation, r.Type)
	}
	if err != nil {
		return &ReservationError{Network: n.name, Description: description, IP: r.IP, Err: err}
	}

	r.IP = addr.String()
	r.Reserved = true
	n.logger.Debug("Reserved address",
		zap.String("owner", description),
		zap.String("type", string(r.Type)),
		zap.String("ip", r.IP))
	return nil
}

// Release frees an address so a later reservation may claim it.
func (n *Manual) Release(ip string) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return
	}
	n.mu.Lock()
	delete(n.inUse, addr)
	n.mu.Unlock()
}

func (n *Manual) reserveStatic(ip, description string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q is not an IP address", ErrInvalidReservation, ip)
	}
	var owner *subnet
	for _, s := range n.subnets {
		if s.prefix.Contains(addr) {
			owner = s
			break
		}
	}
	if owner == nil || !owner.inRanges(owner.static, addr) {
		return netip.Addr{}, fmt.Errorf("%w: %s is not in a static range", ErrInvalidReservation, addr)
	}
	if holder, taken := n.inUse[addr]; taken && holder != description {
		return netip.Addr{}, fmt.Errorf("%w: %s is already reserved by %s", ErrInvalidReservation, addr, holder)
	}
	n.inUse[addr] = description
	return addr, nil
}

func (n *Manual) reserveDynamic(description string) (netip.Addr, error) {
	for _, s := range n.subnets {
		for a := s.first; a.IsValid() && a.Compare(s.last) <= 0; a = a.Next() {
			if n.dynamicCandidate(s, a) {
				n.inUse[a] = description
				return a, nil
			}
		}
	}
	return netip.Addr{}, ErrNoCapacity
}

func (n *Manual) dynamicCandidate(s *subnet, a netip.Addr) bool {
	if a == s.gateway {
		return false
	}
	for _, d := range s.dns {
		if a == d {
			return false
		}
	}
	if s.inRanges(s.reserved, a) || s.inRanges(s.static, a) {
		return false
	}
	_, taken := n.inUse[a]
	return !taken
}

func parseSubnet(cfg manifest.SubnetConfig) (*subnet, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cfg.Range))
	if err != nil {
		return nil, fmt.Errorf("%w: range %q: %v", ErrInvalidSubnet, cfg.Range, err)
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("%w: range %q: only IPv4 subnets are supported", ErrInvalidSubnet, cfg.Range)
	}
	if prefix.Bits() > 30 {
		return nil, fmt.Errorf("%w: range %q has no usable host addresses", ErrInvalidSubnet, cfg.Range)
	}
	prefix = prefix.Masked()

	s := &subnet{
		prefix: prefix,
		first:  prefix.Addr().Next(),
		last:   broadcast(prefix).Prev(),
	}

	if cfg.Gateway != "" {
		if s.gateway, err = s.parseMember(cfg.Gateway); err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
	}
	for _, raw := range cfg.DNS {
		a, err := netip.ParseAddr(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: dns %q", ErrInvalidSubnet, raw)
		}
		s.dns = append(s.dns, a)
	}
	if s.reserved, err = s.parseRanges(cfg.Reserved); err != nil {
		return nil, fmt.Errorf("reserved: %w", err)
	}
	if s.static, err = s.parseRanges(cfg.Static); err != nil {
		return nil, fmt.Errorf("static: %w", err)
	}
	for _, r := range s.static {
		if s.inRanges(s.reserved, r.from) || s.inRanges(s.reserved, r.to) {
			return nil, fmt.Errorf("%w: static range %s - %s overlaps a reserved range", ErrInvalidSubnet, r.from, r.to)
		}
	}
	return s, nil
}

func (s *subnet) parseMember(raw string) (netip.Addr, error) {
	a, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q is not an IP address", ErrInvalidSubnet, raw)
	}
	if !s.prefix.Contains(a) {
		return netip.Addr{}, fmt.Errorf("%w: %s is outside %s", ErrInvalidSubnet, a, s.prefix)
	}
	return a, nil
}

// parseRanges accepts single addresses and "a - b" ranges.
func (s *subnet) parseRanges(entries []string) ([]addrRange, error) {
	out := make([]addrRange, 0, len(entries))
	for _, entry := range entries {
		from, to, isRange := strings.Cut(entry, "-")
		start, err := s.parseMember(from)
		if err != nil {
			return nil, err
		}
		end := start
		if isRange {
			if end, err = s.parseMember(to); err != nil {
				return nil, err
			}
		}
		if end.Less(start) {
			return nil, fmt.Errorf("%w: range %q ends before it starts", ErrInvalidSubnet, entry)
		}
		out = append(out, addrRange{from: start, to: end})
	}
	return out, nil
}

func broadcast(p netip.Prefix) netip.Addr {
	b := p.Addr().As4()
	hostBits := 32 - p.Bits()
	for i := 3; i >= 0 && hostBits > 0; i-- {
		n := min(hostBits, 8)
		b[i] |= byte(1<<n - 1)
		hostBits -= n
	}
	return netip.AddrFrom4(b)
}
