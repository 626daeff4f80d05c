package pipeline

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	networkWaitTimeout = 60 * time.Second
	networkPollEvery   = 2 * time.Second
	healthPollEvery    = 5 * time.Second
)

// waitForContainerNetwork polls until ctid reports an address, giving a
// freshly-started container time to bring its interface up. The App's net0
// is configured with the IPAM-reserved address directly (not DHCP), so this
// confirms the interface came up rather than waiting on a lease.
func waitForContainerNetwork(p *Pipeline, ctid int) (string, error) {
	deadline := time.Now().Add(networkWaitTimeout)
	for time.Now().Before(deadline) {
		if ip, err := p.pxm.GetIP(ctid); err == nil && ip != "" {
			return ip, nil
		}
		time.Sleep(networkPollEvery)
	}
	return "", fmt.Errorf("timed out waiting for container network")
}

// waitForComposeHealth polls `docker compose ps` until at least one service
// reports running, or the pipeline's own context deadline is hit — image
// pulls can legitimately take minutes, so this rides the pipeline timeout
// rather than a fixed short one.
func waitForComposeHealth(rc *runContext) error {
	for {
		select {
		case <-rc.ctx.Done():
			return fmt.Errorf("timed out waiting for compose services to report healthy")
		default:
		}

		result, err := rc.p.pxm.Exec(rc.app.VMID, []string{
			"docker", "compose", "-f", "/opt/app/compose.yml", "ps", "--status", "running", "-q",
		})
		if err == nil && result.ExitCode == 0 && strings.TrimSpace(result.Output) != "" {
			return nil
		}

		select {
		case <-rc.ctx.Done():
			return fmt.Errorf("timed out waiting for compose services to report healthy")
		case <-time.After(healthPollEvery):
		}
	}
}

func writeTempFile(content []byte) (string, error) {
	f, err := os.CreateTemp("", "proximity-install-*")
	if err != nil {
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	return f.Name(), nil
}

func removeTempFile(path string) {
	_ = os.Remove(path)
}

// renderEnvFile produces a sorted KEY=VALUE .env file — sorted so repeated
// renders of the same env map are byte-identical, which keeps a retried
// install step idempotent.
func renderEnvFile(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, escapeEnvValue(env[k]))
	}
	return b.String()
}

// escapeEnvValue wraps a value in double quotes if it contains whitespace
// or a literal quote, escaping embedded quotes and backslashes.
func escapeEnvValue(v string) string {
	if !strings.ContainsAny(v, " \t\"'\n") {
		return v
	}
	escaped := strings.ReplaceAll(v, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
