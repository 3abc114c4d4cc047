// Package doctor runs read-only preflight checks against a treasury
// daemon installation: data directory hygiene, storage secret
// availability, custody keystore presence and endpoint reachability.
// It never mutates state; a failed check reports why, it does not fix.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/KEI-finance/treasury-contracts/internal/chain"
)

// File names mirror the daemon storage layout under the data directory.
const (
	reserveFileName    = "reserves.json"
	journalFileName    = "journal.json"
	accessFileName     = "access.json"
	custodyKeyFileName = "custody.key"
	storageKeyFileName = "storage.key"

	storagePassphraseEnv = "KEI_STORAGE_PASSPHRASE"

	defaultProbeTimeout = 2 * time.Second
)

type Input struct {
	RPCAddr      string
	ChainBackend string
	ChainRPCURL  string
}

type Check struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type Report struct {
	Ready     bool      `json:"ready"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

type Service struct {
	dataDir string
	now     func() time.Time
	probe   func(ctx context.Context, rpcAddr string) (string, error)
	dial    func(network, addr string, timeout time.Duration) error
}

func New(dataDir string) *Service {
	if strings.TrimSpace(dataDir) == "" {
		dataDir = "."
	}
	return &Service{
		dataDir: dataDir,
		now:     func() time.Time { return time.Now().UTC() },
		probe:   probeDaemonHealth,
		dial:    dialEndpoint,
	}
}

func (s *Service) Run(ctx context.Context, input Input) (Report, error) {
	report := Report{
		Ready:     true,
		Checks:    make([]Check, 0, 10),
		CheckedAt: s.now(),
	}
	appendCheck := func(name string, pass bool, reason string) {
		report.Checks = append(report.Checks, Check{Name: name, Pass: pass, Reason: reason})
		if !pass {
			report.Ready = false
		}
	}

	dirInfo, err := os.Stat(s.dataDir)
	dirPresent := err == nil && dirInfo.IsDir()
	appendCheck("data_dir_present", dirPresent, failReason(!dirPresent, fmt.Sprintf("data directory %s does not exist", s.dataDir)))
	if dirPresent {
		if err := checkPrivatePerm(dirInfo.Mode()); err != nil {
			appendCheck("data_dir_private", false, fmt.Sprintf("data directory %s: %v", s.dataDir, err))
		} else {
			appendCheck("data_dir_private", true, "")
		}
	}

	s.checkStorageSecret(appendCheck)

	backend := strings.TrimSpace(input.ChainBackend)
	if backend == "" {
		backend = chain.BackendMemory
	}
	backendValid := backend == chain.BackendEth || backend == chain.BackendMemory
	appendCheck("chain_backend_valid", backendValid, failReason(!backendValid, fmt.Sprintf("unknown chain backend %q", backend)))

	if backendValid && backend == chain.BackendEth {
		s.checkEthBackend(appendCheck, input.ChainRPCURL)
	}

	if strings.TrimSpace(input.RPCAddr) != "" {
		status, err := s.probe(ctx, input.RPCAddr)
		if err != nil {
			appendCheck("daemon_rpc_reachable", false, err.Error())
		} else {
			appendCheck("daemon_rpc_reachable", true, "")
			appendCheck("daemon_rpc_healthy", status == "ok", failReason(status != "ok", fmt.Sprintf("daemon reported status %q", status)))
		}
	}
	return report, nil
}

// checkStorageSecret verifies a secret would be resolvable on boot
// without minting or writing one. Encrypted state with no reachable
// secret is the failure mode this exists to catch before a restart.
func (s *Service) checkStorageSecret(appendCheck func(name string, pass bool, reason string)) {
	if strings.TrimSpace(os.Getenv(storagePassphraseEnv)) != "" {
		appendCheck("storage_secret_available", true, "")
		return
	}

	keyPath := filepath.Join(s.dataDir, storageKeyFileName)
	keyInfo, err := os.Stat(keyPath)
	if err == nil && !keyInfo.IsDir() && keyInfo.Size() > 0 {
		appendCheck("storage_secret_available", true, "")
		if permErr := checkPrivatePerm(keyInfo.Mode()); permErr != nil {
			appendCheck("storage_key_private", false, fmt.Sprintf("%s: %v", keyPath, permErr))
		} else {
			appendCheck("storage_key_private", true, "")
		}
		return
	}

	if s.hasPersistentState() {
		appendCheck("storage_secret_available", false, fmt.Sprintf("existing treasury state but no %s or %s", storagePassphraseEnv, keyPath))
		return
	}
	// Fresh directory: the daemon mints a secret on first boot.
	appendCheck("storage_secret_available", true, "")
}

func (s *Service) checkEthBackend(appendCheck func(name string, pass bool, reason string), rawURL string) {
	custodyPath := filepath.Join(s.dataDir, custodyKeyFileName)
	custodyInfo, err := os.Stat(custodyPath)
	custodyPresent := err == nil && !custodyInfo.IsDir() && custodyInfo.Size() > 0
	appendCheck("custody_keystore_present", custodyPresent, failReason(!custodyPresent, fmt.Sprintf("custody keystore not found at %s; initialize one with treasury-keytool init", custodyPath)))

	endpoint, err := chainEndpoint(rawURL)
	if err != nil {
		appendCheck("chain_rpc_url_valid", false, err.Error())
		return
	}
	appendCheck("chain_rpc_url_valid", true, "")

	if err := s.dial("tcp", endpoint, defaultProbeTimeout); err != nil {
		appendCheck("chain_rpc_reachable", false, fmt.Sprintf("dial %s: %v", endpoint, err))
	} else {
		appendCheck("chain_rpc_reachable", true, "")
	}
}

func (s *Service) hasPersistentState() bool {
	names := []string{reserveFileName, journalFileName, accessFileName, custodyKeyFileName}
	for _, name := range names {
		info, err := os.Stat(filepath.Join(s.dataDir, name))
		if err == nil && !info.IsDir() && info.Size() > 0 {
			return true
		}
	}
	return false
}

func failReason(failed bool, reason string) string {
	if !failed {
		return ""
	}
	return reason
}

func checkPrivatePerm(mode os.FileMode) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if perm := mode.Perm(); perm&0o077 != 0 {
		return fmt.Errorf("permissions %04o are readable by group or others", perm)
	}
	return nil
}

// chainEndpoint reduces an RPC URL to a dialable host:port.
func chainEndpoint(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", fmt.Errorf("chain rpc url is not configured")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("chain rpc url is invalid: %v", err)
	}
	var defaultPort string
	switch parsed.Scheme {
	case "http", "ws":
		defaultPort = "80"
	case "https", "wss":
		defaultPort = "443"
	default:
		return "", fmt.Errorf("chain rpc url scheme %q is unsupported", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("chain rpc url has no host: %q", trimmed)
	}
	port := parsed.Port()
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port), nil
}

func dialEndpoint(network, addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

func probeDaemonHealth(ctx context.Context, rpcAddr string) (status string, retErr error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	endpoint := "http://" + strings.TrimSpace(rpcAddr) + "/healthz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("health status %d", resp.StatusCode)
	}
	var decoded struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	return decoded.Status, nil
}
