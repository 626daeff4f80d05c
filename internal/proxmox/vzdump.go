package proxmox

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// VzdumpCreateOptions controls a single backup job kicked off via the
// Proxmox vzdump API.
type VzdumpCreateOptions struct {
	CTID        int
	Storage     string
	Compression string // "zstd", "gzip", "lzo", or "" for none
	Mode        string // "snapshot", "suspend", "stop"
}

// VzdumpCreate triggers a vzdump backup job for ctid and waits for it to
// complete, returning the resulting archive's volid.
func (c *Client) VzdumpCreate(ctx context.Context, opts VzdumpCreateOptions) (string, error) {
	params := url.Values{}
	params.Set("vmid", strconv.Itoa(opts.CTID))
	params.Set("storage", opts.Storage)
	mode := opts.Mode
	if mode == "" {
		mode = "snapshot"
	}
	params.Set("mode", mode)
	if opts.Compression != "" {
		params.Set("compress", opts.Compression)
	}

	path := fmt.Sprintf("/nodes/%s/vzdump", c.node)
	var upid string
	if err := c.doRequest(ctx, "POST", path, params, &upid); err != nil {
		return "", fmt.Errorf("starting vzdump for container %d: %w", opts.CTID, err)
	}
	if err := c.WaitForTask(ctx, upid, vzdumpTaskTimeout); err != nil {
		return "", fmt.Errorf("vzdump for container %d: %w", opts.CTID, err)
	}

	volid, err := c.findLatestDump(ctx, opts.Storage, opts.CTID)
	if err != nil {
		return "", fmt.Errorf("locating vzdump archive for container %d: %w", opts.CTID, err)
	}
	return volid, nil
}

// VzdumpRestoreOptions controls restoring an archive back into an LXC
// container — either the original CTID (in place) or a new one (clone).
type VzdumpRestoreOptions struct {
	CTID    int
	Archive string // volid, e.g. "local:backup/vzdump-lxc-200-....tar.zst"
	Storage string
	Force   bool
}

// VzdumpRestore restores archive onto CTID and waits for the job to
// complete. CTID must not already exist unless Force is set.
func (c *Client) VzdumpRestore(ctx context.Context, opts VzdumpRestoreOptions) error {
	params := url.Values{}
	params.Set("vmid", strconv.Itoa(opts.CTID))
	params.Set("ostemplate", opts.Archive)
	params.Set("storage", opts.Storage)
	params.Set("restore", "1")
	if opts.Force {
		params.Set("force", "1")
	}

	path := fmt.Sprintf("/nodes/%s/lxc", c.node)
	var upid string
	if err := c.doRequest(ctx, "POST", path, params, &upid); err != nil {
		return fmt.Errorf("restoring container %d from %s: %w", opts.CTID, opts.Archive, err)
	}
	return c.WaitForTask(ctx, upid, vzdumpTaskTimeout)
}

// backupContent is the content-listing shape returned for vzdump archives
// from GET /nodes/{node}/storage/{storage}/content?content=backup.
type backupContent struct {
	Volid string `json:"volid"`
	CTime int64  `json:"ctime"`
	VMID  int    `json:"vmid"`
	Size  int64  `json:"size"`
}

// findLatestDump returns the most recent vzdump archive volid for ctid on
// storage, used right after VzdumpCreate since the vzdump task itself
// doesn't return the archive's volid directly.
func (c *Client) findLatestDump(ctx context.Context, storage string, ctid int) (string, error) {
	path := fmt.Sprintf("/nodes/%s/storage/%s/content", c.node, storage)
	params := url.Values{"content": {"backup"}}
	var entries []backupContent
	if err := c.doRequest(ctx, "GET", path, params, &entries); err != nil {
		return "", err
	}

	var latest *backupContent
	for i := range entries {
		e := &entries[i]
		if e.VMID != ctid {
			continue
		}
		if latest == nil || e.CTime > latest.CTime {
			latest = e
		}
	}
	if latest == nil {
		return "", fmt.Errorf("no backup archive found for container %d on storage %s", ctid, storage)
	}
	return latest.Volid, nil
}

// DeleteArchive removes a vzdump archive from storage — called by the
// Backup Engine to enforce keep-last-N retention.
func (c *Client) DeleteArchive(ctx context.Context, storage, volid string) error {
	path := fmt.Sprintf("/nodes/%s/storage/%s/content/%s", c.node, storage, volid)
	return c.doRequest(ctx, "DELETE", path, nil, nil)
}

const vzdumpTaskTimeout = 30 * time.Minute
