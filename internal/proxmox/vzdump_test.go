package proxmox

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestVzdumpCreateFindsLatestArchive(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve/vzdump", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": "UPID:pve:00:vzdump"})
	})
	mux.HandleFunc("/api2/json/nodes/pve/tasks/UPID:pve:00:vzdump/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"status": "stopped", "exitstatus": "OK"}})
	})
	mux.HandleFunc("/api2/json/nodes/pve/storage/local/content", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]interface{}{
			{"volid": "local:backup/vzdump-lxc-200-2024_01_01.tar.zst", "ctime": 100, "vmid": 200},
			{"volid": "local:backup/vzdump-lxc-200-2024_06_01.tar.zst", "ctime": 200, "vmid": 200},
			{"volid": "local:backup/vzdump-lxc-201-2024_06_01.tar.zst", "ctime": 300, "vmid": 201},
		}})
	})

	_, client := newTestServer(t, mux)
	volid, err := client.VzdumpCreate(context.Background(), VzdumpCreateOptions{CTID: 200, Storage: "local"})
	if err != nil {
		t.Fatalf("VzdumpCreate: %v", err)
	}
	if volid != "local:backup/vzdump-lxc-200-2024_06_01.tar.zst" {
		t.Errorf("volid = %q, want the newest archive for ctid 200", volid)
	}
}

func TestVzdumpCreateNoArchiveFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve/vzdump", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": "UPID:pve:00:vzdump"})
	})
	mux.HandleFunc("/api2/json/nodes/pve/tasks/UPID:pve:00:vzdump/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"status": "stopped", "exitstatus": "OK"}})
	})
	mux.HandleFunc("/api2/json/nodes/pve/storage/local/content", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]interface{}{}})
	})

	_, client := newTestServer(t, mux)
	if _, err := client.VzdumpCreate(context.Background(), VzdumpCreateOptions{CTID: 200, Storage: "local"}); err == nil {
		t.Fatal("expected error when no archive matches ctid")
	}
}

func TestVzdumpRestoreSendsRestoreFlag(t *testing.T) {
	var gotRestore, gotForce string
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve/lxc", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotRestore = r.FormValue("restore")
		gotForce = r.FormValue("force")
		json.NewEncoder(w).Encode(map[string]interface{}{"data": "UPID:pve:00:restore"})
	})
	mux.HandleFunc("/api2/json/nodes/pve/tasks/UPID:pve:00:restore/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"status": "stopped", "exitstatus": "OK"}})
	})

	_, client := newTestServer(t, mux)
	err := client.VzdumpRestore(context.Background(), VzdumpRestoreOptions{
		CTID: 200, Archive: "local:backup/vzdump-lxc-200.tar.zst", Storage: "local", Force: true,
	})
	if err != nil {
		t.Fatalf("VzdumpRestore: %v", err)
	}
	if gotRestore != "1" || gotForce != "1" {
		t.Errorf("restore=%q force=%q, want both 1", gotRestore, gotForce)
	}
}
