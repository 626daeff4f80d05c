// Package ipam allocates IPs from a Host's managed DHCP range and
// enforces hostname uniqueness, backed by the reservations table in
// internal/store.
package ipam

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/proximityhq/proximity/internal/store"
)

// ErrConflictHostname is returned when the requested hostname is already
// reserved on the host.
var ErrConflictHostname = errors.New("hostname already reserved on this host")

// ErrPoolExhausted is returned when no free IP remains in the host's range.
var ErrPoolExhausted = errors.New("address pool exhausted")

// ErrInvalidHostname is returned when hostname fails RFC 1123 validation.
var ErrInvalidHostname = errors.New("hostname must be 1-63 lowercase alphanumeric characters or hyphens, and not start or end with a hyphen")

var hostnamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// releaseCooldown is how long a freed IP is passed over by allocation
// after Release (unless the rest of the range is taken), so a device that
// hasn't yet flushed its old ARP/DHCP lease doesn't collide with a new one
// claiming the same address.
const releaseCooldown = 10 * time.Minute

// ValidateHostname enforces the RFC 1123 label restriction used throughout
// the LAN (lowercase alphanumerics and hyphens, 1-63 chars, first/last
// alphanumeric).
func ValidateHostname(hostname string) error {
	if len(hostname) == 0 || len(hostname) > 63 {
		return ErrInvalidHostname
	}
	if !hostnamePattern.MatchString(hostname) {
		return ErrInvalidHostname
	}
	return nil
}

// Registry allocates IPs and hostnames for a set of Hosts, each with its
// own DHCP range. One goroutine-safe Registry normally backs the whole
// process; a per-host mutex keeps allocation decisions for different hosts
// from blocking each other.
type Registry struct {
	store *store.Store

	mu       sync.Mutex
	hostLock map[string]*sync.Mutex
}

// New creates a Registry backed by s.
func New(s *store.Store) *Registry {
	return &Registry{store: s, hostLock: make(map[string]*sync.Mutex)}
}

func (r *Registry) lockFor(hostID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.hostLock[hostID]
	if !ok {
		l = &sync.Mutex{}
		r.hostLock[hostID] = l
	}
	return l
}

// Reserve atomically verifies hostname uniqueness, picks the lowest free
// IP in [start, end], and stores a tentative reservation bound to a
// returned token. The caller must Bind or Release the token once the
// pipeline reaches a terminal outcome.
func (r *Registry) Reserve(hostID, hostname, start, end string) (ip, token string, err error) {
	if err := ValidateHostname(hostname); err != nil {
		return "", "", err
	}

	lock := r.lockFor(hostID)
	lock.Lock()
	defer lock.Unlock()

	exists, err := r.store.HostnameExists(hostID, hostname)
	if err != nil {
		return "", "", fmt.Errorf("checking hostname: %w", err)
	}
	if exists {
		return "", "", ErrConflictHostname
	}

	reserved, err := r.store.ListReservedIPs(hostID)
	if err != nil {
		return "", "", fmt.Errorf("listing reserved IPs: %w", err)
	}

	cooling, err := r.store.ListIPsInCooldown(hostID, releaseCooldown)
	if err != nil {
		return "", "", fmt.Errorf("listing cooling-down IPs: %w", err)
	}

	ip, err = lowestFreeIP(start, end, reserved, cooling)
	if err != nil {
		return "", "", err
	}

	token = uuid.NewString()
	res := &store.Reservation{
		HostID:    hostID,
		Hostname:  hostname,
		IP:        ip,
		Token:     token,
		CreatedAt: time.Now(),
	}
	if err := r.store.CreateReservation(res); err != nil {
		return "", "", fmt.Errorf("creating reservation: %w", err)
	}
	return ip, token, nil
}

// Bind promotes a tentative reservation to a permanent binding once the
// Deployment Pipeline has successfully created the App row.
func (r *Registry) Bind(token, appID string) error {
	return r.store.BindReservation(token, appID)
}

// Release frees a host's hostname/IP pair — called on pipeline rollback or
// App deletion.
func (r *Registry) Release(hostID, hostname string) error {
	return r.store.ReleaseReservation(hostID, hostname)
}

// HostnameExists reports whether hostname is already reserved on hostID.
func (r *Registry) HostnameExists(hostID, hostname string) (bool, error) {
	return r.store.HostnameExists(hostID, hostname)
}

// lowestFreeIP returns the lowest address in [start, end] not present in
// reserved or cooling. If every address in range is taken, it falls back
// to the first in-range entry of cooling — the address that has been out
// of use longest —
// since a released IP is immediately reusable in principle and the
// cooldown is a preference against ARP churn, not a hard reservation. Only
// when both reserved and cooling cover the whole range does allocation
// fail with ErrPoolExhausted.
func lowestFreeIP(start, end string, reserved, cooling []string) (string, error) {
	startIP := net.ParseIP(start).To4()
	endIP := net.ParseIP(end).To4()
	if startIP == nil || endIP == nil {
		return "", fmt.Errorf("invalid DHCP range %s-%s", start, end)
	}

	taken := make(map[string]bool, len(reserved)+len(cooling))
	for _, ip := range reserved {
		taken[ip] = true
	}
	for _, ip := range cooling {
		taken[ip] = true
	}

	startN := ipToUint32(startIP)
	endN := ipToUint32(endIP)
	if startN > endN {
		return "", fmt.Errorf("invalid DHCP range %s-%s: start after end", start, end)
	}

	for n := startN; n <= endN; n++ {
		candidate := uint32ToIP(n).String()
		if !taken[candidate] {
			return candidate, nil
		}
		if n == endN {
			break
		}
	}

	// Pool otherwise exhausted — reuse the longest-cooled address still in
	// range, oldest release first (cooling is ordered oldest-first).
	reservedSet := make(map[string]bool, len(reserved))
	for _, ip := range reserved {
		reservedSet[ip] = true
	}
	for _, candidate := range cooling {
		if reservedSet[candidate] {
			continue
		}
		ipN := ipToUint32(net.ParseIP(candidate).To4())
		if ipN >= startN && ipN <= endN {
			return candidate, nil
		}
	}
	return "", ErrPoolExhausted
}

func ipToUint32(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIP(n uint32) net.IP {
	return net.IPv4(byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}
