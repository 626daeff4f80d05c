package server

import (
	"encoding/json"
	"net/http"
)

type resourcesSettings struct {
	Cores    int    `json:"cores"`
	MemoryMB int    `json:"memory_mb"`
	DiskGB   int    `json:"disk_gb"`
	SwapMB   int    `json:"swap_mb"`
	Storage  string `json:"storage"`
	Template string `json:"template"`
}

func (s *Server) handleGetResourceSettings(w http.ResponseWriter, r *http.Request) {
	d := s.cfg.Defaults
	writeJSON(w, http.StatusOK, resourcesSettings{
		Cores: d.Cores, MemoryMB: d.MemoryMB, DiskGB: d.DiskGB,
		SwapMB: d.SwapMB, Storage: d.Storage, Template: d.Template,
	})
}

func (s *Server) handleUpdateResourceSettings(w http.ResponseWriter, r *http.Request) {
	var req resourcesSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Cores < 1 {
		writeError(w, http.StatusBadRequest, "cores must be >= 1")
		return
	}
	if req.MemoryMB < 128 {
		writeError(w, http.StatusBadRequest, "memory_mb must be >= 128")
		return
	}
	if req.DiskGB < 1 {
		writeError(w, http.StatusBadRequest, "disk_gb must be >= 1")
		return
	}

	s.cfg.Defaults.Cores = req.Cores
	s.cfg.Defaults.MemoryMB = req.MemoryMB
	s.cfg.Defaults.DiskGB = req.DiskGB
	s.cfg.Defaults.SwapMB = req.SwapMB
	s.cfg.Defaults.Storage = req.Storage
	s.cfg.Defaults.Template = req.Template

	for key, val := range map[string]string{
		"lxc_cores": itoa(req.Cores), "lxc_memory": itoa(req.MemoryMB),
		"lxc_disk": itoa(req.DiskGB), "lxc_storage": req.Storage,
	} {
		if err := s.store.SetSetting(key, val, "resources", nil); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, req)
}

type networkSettings struct {
	LANSubnet  string `json:"lan_subnet"`
	LANGateway string `json:"lan_gateway"`
	DHCPStart  string `json:"dhcp_start"`
	DHCPEnd    string `json:"dhcp_end"`
	DNSDomain  string `json:"dns_domain"`
	Bridge     string `json:"bridge"`
}

func (s *Server) handleGetNetworkSettings(w http.ResponseWriter, r *http.Request) {
	n := s.cfg.Network
	writeJSON(w, http.StatusOK, networkSettings{
		LANSubnet: n.LANSubnet, LANGateway: n.LANGateway, DHCPStart: n.DHCPStart,
		DHCPEnd: n.DHCPEnd, DNSDomain: n.DNSDomain, Bridge: n.Bridge,
	})
}

func (s *Server) handleUpdateNetworkSettings(w http.ResponseWriter, r *http.Request) {
	var req networkSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LANSubnet == "" || req.DHCPStart == "" || req.DHCPEnd == "" {
		writeError(w, http.StatusBadRequest, "lan_subnet, dhcp_start, and dhcp_end are required")
		return
	}

	s.cfg.Network.LANSubnet = req.LANSubnet
	s.cfg.Network.LANGateway = req.LANGateway
	s.cfg.Network.DHCPStart = req.DHCPStart
	s.cfg.Network.DHCPEnd = req.DHCPEnd
	s.cfg.Network.DNSDomain = req.DNSDomain
	s.cfg.Network.Bridge = req.Bridge

	for key, val := range map[string]string{
		"lan_subnet": req.LANSubnet, "lan_gateway": req.LANGateway,
		"dhcp_start": req.DHCPStart, "dhcp_end": req.DHCPEnd,
		"dns_domain": req.DNSDomain,
	} {
		if err := s.store.SetSetting(key, val, "network", nil); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, req)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
