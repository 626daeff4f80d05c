package store

import (
	"database/sql"
	"time"
)

// UpsertAppliance creates or replaces a Host's Appliance row — bootstrap is
// idempotent, so callers upsert on every ensure() call.
func (s *Store) UpsertAppliance(a *Appliance) error {
	now := fmtTime(time.Now())
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO appliances (host_id, vmid, wan_ip, lan_ip, subnet, gateway, dhcp_start, dhcp_end,
			dns_domain, dhcp_state, dns_state, proxy_state, nat_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(host_id) DO UPDATE SET
			vmid=excluded.vmid, wan_ip=excluded.wan_ip, lan_ip=excluded.lan_ip, subnet=excluded.subnet,
			gateway=excluded.gateway, dhcp_start=excluded.dhcp_start, dhcp_end=excluded.dhcp_end,
			dns_domain=excluded.dns_domain, dhcp_state=excluded.dhcp_state, dns_state=excluded.dns_state,
			proxy_state=excluded.proxy_state, nat_state=excluded.nat_state, updated_at=excluded.updated_at`,
		a.HostID, a.VMID, a.WANIP, a.LANIP, a.Subnet, a.Gateway, a.DHCPStart, a.DHCPEnd,
		a.DNSDomain, a.DHCPState, a.DNSState, a.ProxyState, a.NATState, fmtTime(a.CreatedAt), now)
	return err
}

// GetAppliance fetches the Appliance owned by hostID.
func (s *Store) GetAppliance(hostID string) (*Appliance, error) {
	row := s.db.QueryRow(`
		SELECT host_id, vmid, wan_ip, lan_ip, subnet, gateway, dhcp_start, dhcp_end,
			dns_domain, dhcp_state, dns_state, proxy_state, nat_state, created_at, updated_at
		FROM appliances WHERE host_id=?`, hostID)
	return scanAppliance(row)
}

// UpdateApplianceHealth updates only the four per-service health fields —
// called on every Reconciler tick without needing the full record.
func (s *Store) UpdateApplianceHealth(hostID, dhcp, dns, proxy, nat string) error {
	res, err := s.db.Exec(`
		UPDATE appliances SET dhcp_state=?, dns_state=?, proxy_state=?, nat_state=?, updated_at=?
		WHERE host_id=?`,
		dhcp, dns, proxy, nat, fmtTime(time.Now()), hostID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAppliance(row rowScanner) (*Appliance, error) {
	var a Appliance
	var created, updated string
	err := row.Scan(&a.HostID, &a.VMID, &a.WANIP, &a.LANIP, &a.Subnet, &a.Gateway, &a.DHCPStart, &a.DHCPEnd,
		&a.DNSDomain, &a.DHCPState, &a.DNSState, &a.ProxyState, &a.NATState, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}
