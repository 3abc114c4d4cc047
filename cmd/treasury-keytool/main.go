// treasury-keytool manages the offline key material around the daemon:
// the custody signing keystore, credential issuer keys, signed caller
// credentials and the revocation list. It also carries the doctor
// preflight for checking an installation before the daemon starts.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/app"
	"github.com/KEI-finance/treasury-contracts/internal/authgate/callercred"
	"github.com/KEI-finance/treasury-contracts/internal/bootstrap/treasuryconfig"
	daemoncomposition "github.com/KEI-finance/treasury-contracts/internal/composition/daemon"
	"github.com/KEI-finance/treasury-contracts/internal/doctor"
	"github.com/KEI-finance/treasury-contracts/internal/keystore"
)

const (
	exitOK           = 0
	exitInvalidInput = 10
	exitStateFailed  = 20
	exitAuthFailed   = 30
)

const custodyPassphraseEnv = "KEI_CUSTODY_PASSPHRASE"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "import":
		runImport(os.Args[2:])
	case "export":
		runExport(os.Args[2:])
	case "address":
		runAddress(os.Args[2:])
	case "issuer-keygen":
		runIssuerKeygen(os.Args[2:])
	case "issue":
		runIssue(os.Args[2:])
	case "revoke":
		runRevoke(os.Args[2:])
	case "doctor":
		runDoctor(os.Args[2:])
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dataDir := fs.String("data-dir", ".", "daemon data directory")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	pass := custodyPassphrase()
	ks := keystore.New(custodyKeyPath(*dataDir))
	mnemonic, addr, err := ks.Create(pass)
	if err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	// The mnemonic is shown exactly once; only its sealed form is kept.
	if err := printJSON(map[string]any{
		"created":  true,
		"custody":  addr.Hex(),
		"mnemonic": mnemonic,
		"path":     custodyKeyPath(*dataDir),
	}); err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	os.Exit(exitOK)
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dataDir := fs.String("data-dir", ".", "daemon data directory")
	mnemonic := fs.String("mnemonic", "", "bip39 mnemonic to import")
	mnemonicFile := fs.String("mnemonic-file", "", "file holding the mnemonic (alternative to --mnemonic)")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	phrase := strings.TrimSpace(*mnemonic)
	if phrase == "" && strings.TrimSpace(*mnemonicFile) != "" {
		raw, err := os.ReadFile(*mnemonicFile)
		if err != nil {
			writeStderrln(err.Error(), exitInvalidInput)
		}
		phrase = strings.TrimSpace(string(raw))
	}
	if phrase == "" {
		writeStderrln("mnemonic is required", exitInvalidInput)
	}

	ks := keystore.New(custodyKeyPath(*dataDir))
	if ks.Exists() {
		writeStderrln("keystore already exists; refusing to overwrite", exitStateFailed)
	}
	addr, err := ks.Import(phrase, custodyPassphrase())
	if err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	if err := printJSON(map[string]any{
		"imported": true,
		"custody":  addr.Hex(),
		"path":     custodyKeyPath(*dataDir),
	}); err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	os.Exit(exitOK)
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dataDir := fs.String("data-dir", ".", "daemon data directory")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	ks := keystore.New(custodyKeyPath(*dataDir))
	mnemonic, err := ks.Export(custodyPassphrase())
	if err != nil {
		writeStderrln(err.Error(), exitAuthFailed)
	}
	if err := printJSON(map[string]any{"mnemonic": mnemonic}); err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	os.Exit(exitOK)
}

func runAddress(args []string) {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	dataDir := fs.String("data-dir", ".", "daemon data directory")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	ks := keystore.New(custodyKeyPath(*dataDir))
	addr, err := ks.Unlock(custodyPassphrase())
	if err != nil {
		writeStderrln(err.Error(), exitAuthFailed)
	}
	if err := printJSON(map[string]any{"custody": addr.Hex()}); err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	os.Exit(exitOK)
}

func runIssuerKeygen(args []string) {
	fs := flag.NewFlagSet("issuer-keygen", flag.ExitOnError)
	outDir := fs.String("out-dir", "", "directory for the private key file")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*outDir) == "" {
		writeStderrln("out-dir is required", exitInvalidInput)
	}

	keyID, pub, priv, err := callercred.GenerateIssuerKey()
	if err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	if err := os.MkdirAll(*outDir, 0o700); err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	privPath := filepath.Join(*outDir, "issuer_key.private.b64")
	encoded := base64.StdEncoding.EncodeToString(priv)
	if err := os.WriteFile(privPath, []byte(encoded+"\n"), 0o600); err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}

	if err := printJSON(map[string]any{
		"key_id": keyID,
		// issuer_keys is the value for credentials.issuerKeys or
		// KEI_CREDENTIAL_ISSUER_KEYS on the daemon side.
		"issuer_keys":      callercred.FormatIssuerKey(keyID, pub),
		"private_key_path": privPath,
	}); err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	os.Exit(exitOK)
}

func runIssue(args []string) {
	fs := flag.NewFlagSet("issue", flag.ExitOnError)
	caller := fs.String("caller", "", "caller account address the credential binds to")
	keyFile := fs.String("issuer-key-file", "", "path to the base64 issuer private key")
	ttl := fs.Duration("ttl", time.Hour, "credential validity duration")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	if !common.IsHexAddress(strings.TrimSpace(*caller)) {
		writeStderrln("caller must be a hex account address", exitInvalidInput)
	}
	if *ttl <= 0 {
		writeStderrln("ttl must be positive", exitInvalidInput)
	}
	priv, err := readIssuerPrivateKey(*keyFile)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	credentialID, err := app.GeneratePrefixedID("cred")
	if err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	now := time.Now().UTC()
	claims := callercred.Claims{
		CredentialID: credentialID,
		Caller:       common.HexToAddress(strings.TrimSpace(*caller)),
		IssuedAt:     now,
		ExpiresAt:    now.Add(*ttl),
		Scope:        callercred.RequiredScope,
		Issuer:       callercred.RequiredIssuer,
		KeyID:        callercred.KeyID(priv.Public().(ed25519.PublicKey)),
	}
	credential, err := callercred.EncodeSignedCredential(claims, priv)
	if err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}

	if err := printJSON(map[string]any{
		"credential_id": claims.CredentialID,
		"caller":        claims.Caller.Hex(),
		"expires_at":    claims.ExpiresAt,
		"credential":    credential,
	}); err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	os.Exit(exitOK)
}

func runRevoke(args []string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	revocationsFile := fs.String("revocations-file", "", "path to the daemon revocation list")
	credentialID := fs.String("credential-id", "", "credential id to revoke")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*revocationsFile) == "" {
		writeStderrln("revocations-file is required", exitInvalidInput)
	}
	if strings.TrimSpace(*credentialID) == "" {
		writeStderrln("credential-id is required", exitInvalidInput)
	}

	revocations := callercred.NewFileRevocations(*revocationsFile)
	if err := revocations.Bootstrap(); err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	changed, err := revocations.Revoke(strings.TrimSpace(*credentialID), time.Now().UTC())
	if err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	if err := printJSON(map[string]any{
		"revoked":       changed,
		"credential_id": strings.TrimSpace(*credentialID),
	}); err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	os.Exit(exitOK)
}

func runDoctor(args []string) {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "daemon data directory (defaults to the configured one)")
	configPath := fs.String("config", "", "daemon config path")
	rpcAddr := fs.String("rpc-addr", "", "running daemon rpc address host:port (skips the probe when empty)")
	chainBackend := fs.String("chain-backend", "", "chain backend override (eth|memory)")
	chainRPCURL := fs.String("chain-rpc-url", "", "chain rpc url override")
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	cfg := treasuryconfig.LoadFromPath(*configPath)
	dir := strings.TrimSpace(*dataDir)
	if dir == "" {
		dir = strings.TrimSpace(cfg.DataDir)
	}
	if dir == "" {
		dir = daemoncomposition.DefaultDataDir
	}
	backend := strings.TrimSpace(*chainBackend)
	if backend == "" {
		backend = cfg.ChainBackend
	}
	rpcURL := strings.TrimSpace(*chainRPCURL)
	if rpcURL == "" {
		rpcURL = cfg.ChainRPCURL
	}
	addr := strings.TrimSpace(*rpcAddr)
	if addr == "" {
		addr = strings.TrimSpace(cfg.RPCAddr)
	}

	report, err := doctor.New(dir).Run(context.Background(), doctor.Input{
		RPCAddr:      addr,
		ChainBackend: backend,
		ChainRPCURL:  rpcURL,
	})
	if err != nil {
		writeStderrln(err.Error(), exitStateFailed)
	}
	if *asJSON {
		if err := printJSON(report); err != nil {
			writeStderrln(err.Error(), exitStateFailed)
		}
	} else {
		writeStdoutf("ready=%v checks=%d\n", report.Ready, len(report.Checks))
		for _, c := range report.Checks {
			if c.Pass {
				writeStdoutf("[PASS] %s\n", c.Name)
			} else {
				writeStdoutf("[FAIL] %s: %s\n", c.Name, c.Reason)
			}
		}
	}
	if report.Ready {
		os.Exit(exitOK)
	}
	os.Exit(exitStateFailed)
}

func custodyKeyPath(dataDir string) string {
	return filepath.Join(dataDir, "custody.key")
}

func custodyPassphrase() string {
	pass := strings.TrimSpace(os.Getenv(custodyPassphraseEnv))
	if pass == "" {
		writeStderrln(custodyPassphraseEnv+" is required", exitInvalidInput)
	}
	return pass
}

func readIssuerPrivateKey(path string) (ed25519.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("issuer-key-file is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("issuer key is not valid base64: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("issuer key must be %d bytes, got %d", ed25519.PrivateKeySize, len(decoded))
	}
	return ed25519.PrivateKey(decoded), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	writeStdoutln("treasury-keytool <command> [flags]")
	writeStdoutln("commands:")
	writeStdoutln("  init           --data-dir <path>")
	writeStdoutln("  import         --data-dir <path> --mnemonic \"...\" | --mnemonic-file <path>")
	writeStdoutln("  export         --data-dir <path>")
	writeStdoutln("  address        --data-dir <path>")
	writeStdoutln("  issuer-keygen  --out-dir <path>")
	writeStdoutln("  issue          --caller 0x... --issuer-key-file <path> [--ttl 1h]")
	writeStdoutln("  revoke         --revocations-file <path> --credential-id <id>")
	writeStdoutln("  doctor         [--data-dir <path>] [--config <path>] [--rpc-addr host:port] [--chain-backend eth|memory] [--chain-rpc-url url] [--json]")
	writeStdoutln("custody commands read the passphrase from " + custodyPassphraseEnv)
}

func writeStdoutln(line string) {
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		os.Exit(exitStateFailed)
	}
}

func writeStdoutf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stdout, format, args...); err != nil {
		os.Exit(exitStateFailed)
	}
}

func writeStderrln(line string, exitCode int) {
	if _, err := fmt.Fprintln(os.Stderr, line); err != nil {
		os.Exit(exitCode)
	}
	os.Exit(exitCode)
}
