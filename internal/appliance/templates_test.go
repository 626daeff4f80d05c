package appliance

import (
	"strings"
	"testing"
)

func TestRenderDnsmasqIncludesEntries(t *testing.T) {
	out, err := renderDnsmasq(dnsmasqData{
		DHCPStart: "10.10.0.10",
		DHCPEnd:   "10.10.0.200",
		DNSDomain: "lan.proximity",
		Entries: []registryEntry{
			{Hostname: "plex", IP: "10.10.0.10"},
		},
	})
	if err != nil {
		t.Fatalf("renderDnsmasq: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, "dhcp-range=10.10.0.10,10.10.0.200,12h") {
		t.Errorf("missing dhcp-range line: %s", s)
	}
	if !strings.Contains(s, "address=/plex.lan.proximity/10.10.0.10") {
		t.Errorf("missing host entry: %s", s)
	}
}

func TestRenderDnsmasqNoEntries(t *testing.T) {
	out, err := renderDnsmasq(dnsmasqData{DHCPStart: "10.10.0.10", DHCPEnd: "10.10.0.200", DNSDomain: "lan.proximity"})
	if err != nil {
		t.Fatalf("renderDnsmasq: %v", err)
	}
	if strings.Contains(string(out), "address=/") {
		t.Errorf("expected no address lines with zero entries: %s", out)
	}
}

func TestRenderProxyOneServerBlockPerPort(t *testing.T) {
	out, err := renderProxy(proxyData{
		DNSDomain: "lan.proximity",
		Entries: []registryEntry{
			{Hostname: "adminer", IP: "10.10.0.11", Ports: []int{80, 8080}},
		},
	})
	if err != nil {
		t.Fatalf("renderProxy: %v", err)
	}
	s := string(out)
	if strings.Count(s, "server {") != 2 {
		t.Errorf("expected 2 server blocks, got:\n%s", s)
	}
	if !strings.Contains(s, "server_name adminer.lan.proximity;") {
		t.Errorf("missing server_name: %s", s)
	}
	if !strings.Contains(s, "proxy_pass http://10.10.0.11:8080;") {
		t.Errorf("missing proxy_pass for port 8080: %s", s)
	}
}
