package proxy

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sirupsen/logrus"
)

const socketTimeout = 5 * time.Second

// HAProxy renders and applies the dynamic reverse-proxy configuration. The
// admin socket is the primary control channel; when it is absent (tests,
// dev boxes without a proxy) rendering still works and Reload reports the
// socket as unavailable.
type HAProxy struct {
	socketPath string
	configPath string
	configDir  string
	log        *logrus.Entry
}

func NewHAProxy(logger *logrus.Logger, socketPath, configPath, configDir string) *HAProxy {
	return &HAProxy{
		socketPath: socketPath,
		configPath: configPath,
		configDir:  configDir,
		log:        logger.WithField("component", "haproxy"),
	}
}

// RenderRule produces the frontend ACL lines for one journal, optionally
// pinned to a user via the X-User-ID header.
func (h *HAProxy) RenderRule(journal *models.Journal, userID *uint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "acl is_%s path_beg /%s\n", journal.Slug, journal.ProxyPath)
	if userID != nil && journal.RequiresAuth {
		fmt.Fprintf(&b, "acl user_%d hdr(X-User-ID) %d\n", *userID, *userID)
		fmt.Fprintf(&b, "use_backend %s_backend if is_%s user_%d", journal.Slug, journal.Slug, *userID)
	} else {
		fmt.Fprintf(&b, "use_backend %s_backend if is_%s", journal.Slug, journal.Slug)
	}
	return b.String()
}

// RenderBackend produces the backend block for one journal: path rewriting
// from the proxy path to the upstream root, custom headers, and the
// journal's upstream timeout.
func (h *HAProxy) RenderBackend(journal *models.Journal) string {
	host, port, ssl := upstreamAddr(journal.BaseURL)

	var b strings.Builder
	fmt.Fprintf(&b, "backend %s_backend\n", journal.Slug)
	b.WriteString("    mode http\n")
	b.WriteString("    balance roundrobin\n")
	if journal.ProxyPath != "" {
		fmt.Fprintf(&b, "    http-request set-path \"/\" if { path -m str \"/%s\" }\n", journal.ProxyPath)
		fmt.Fprintf(&b, "    http-request set-path %%[path,regsub(^/%s/,/)] if { path -m beg \"/%s/\" }\n",
			journal.ProxyPath, journal.ProxyPath)
	}
	for _, header := range sortedKeys(journal.CustomHeaders) {
		fmt.Fprintf(&b, "    http-request set-header %s %s\n", header, journal.CustomHeaders[header])
	}
	server := fmt.Sprintf("    server %s_server %s:%d", journal.Slug, host, port)
	if ssl {
		server += " ssl verify none"
	}
	b.WriteString(server + "\n")
	if journal.Timeout > 0 {
		fmt.Fprintf(&b, "    timeout server %ds\n", journal.Timeout)
	}
	return b.String()
}

// RenderConfig produces the complete configuration covering every active
// journal.
func (h *HAProxy) RenderConfig(journals []models.Journal) string {
	var acls, uses, backends []string
	for i := range journals {
		j := &journals[i]
		acls = append(acls, fmt.Sprintf("    acl is_%s path_beg /%s", j.Slug, j.ProxyPath))
		uses = append(uses, fmt.Sprintf("    use_backend %s_backend if is_%s", j.Slug, j.Slug))
		backends = append(backends, h.RenderBackend(j))
	}

	var b strings.Builder
	b.WriteString(`global
    daemon
    log stdout local0
    stats timeout 30s

defaults
    mode http
    log global
    option httplog
    option dontlognull
    option forwardfor
    timeout connect 5000
    timeout client 50000
    timeout server 50000

frontend libproxy_frontend
    bind *:80
`)
	b.WriteString(strings.Join(acls, "\n"))
	b.WriteString("\n")
	b.WriteString(strings.Join(uses, "\n"))
	b.WriteString("\n    default_backend libproxy_api\n\nbackend libproxy_api\n    balance roundrobin\n    server libproxy_api 127.0.0.1:8080\n\n")
	b.WriteString(strings.Join(backends, "\n"))
	return b.String()
}

// WriteBackendFile writes one journal's backend block into the config
// fragment directory, named after the owning proxy config.
func (h *HAProxy) WriteBackendFile(configName string, journal *models.Journal) error {
	if err := os.MkdirAll(h.configDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(h.configDir, configName+".cfg")
	return os.WriteFile(path, []byte(h.RenderBackend(journal)), 0o644)
}

func (h *HAProxy) RemoveBackendFile(configName string) error {
	path := filepath.Join(h.configDir, configName+".cfg")
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (h *HAProxy) WriteConfig(content string) error {
	if err := os.MkdirAll(filepath.Dir(h.configPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(h.configPath, []byte(content), 0o644)
}

func (h *HAProxy) SocketAvailable() bool {
	_, err := os.Stat(h.socketPath)
	return err == nil
}

// Reload asks the running HAProxy to re-read its configuration through the
// admin socket.
func (h *HAProxy) Reload(ctx context.Context) error {
	resp, err := h.command(ctx, "reload")
	if err != nil {
		return err
	}
	h.log.WithField("response", strings.TrimSpace(resp)).Debug("HAProxy reload issued")
	return nil
}

// Stats fetches and parses the `show stat` CSV from the admin socket.
func (h *HAProxy) Stats(ctx context.Context) ([]map[string]string, error) {
	raw, err := h.command(ctx, "show stat")
	if err != nil {
		return nil, err
	}
	return parseStats(raw), nil
}

func (h *HAProxy) command(ctx context.Context, cmd string) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", h.socketPath)
	if err != nil {
		return "", fmt.Errorf("haproxy socket unavailable: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(socketTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		return "", err
	}

	var b strings.Builder
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String(), nil
}

// parseStats turns HAProxy's `show stat` CSV output into one map per
// proxy/server row. The header line starts with "# ".
func parseStats(raw string) []map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(raw, "# ")))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil || len(records) < 1 {
		return nil
	}
	columns := records[0]

	var rows []map[string]string
	for _, values := range records[1:] {
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if col == "" || i >= len(values) {
				continue
			}
			row[col] = values[i]
		}
		rows = append(rows, row)
	}
	return rows
}

func upstreamAddr(baseURL string) (host string, port int, ssl bool) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return baseURL, 80, false
	}
	host = u.Hostname()
	ssl = u.Scheme == "https"
	port = 80
	if ssl {
		port = 443
	}
	if p := u.Port(); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}
	return host, port, ssl
}

func sortedKeys(m models.HeaderMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
