package app

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/saba-futai/mtrelay/internal/config"
)

// WizardResult aggregates outputs from the interactive setup.
type WizardResult struct {
	Config     *config.Config
	ConfigPath string
	ShareLink  string
}

// RunSetupWizard builds a relay config interactively, saves it and exports a share link.
func RunSetupWizard(in io.Reader, out io.Writer, defaultPath, publicHost string) (*WizardResult, error) {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "== mtrelay setup ==")
	host := promptString(reader, out, "Public host/IP clients connect to", publicHost, "127.0.0.1")
	port := promptInt(reader, out, "Listen port", config.DefaultPort)
	handshakeSecs := promptInt(reader, out, "Handshake timeout (seconds)", int(config.DefaultHandshakeTimeout/time.Second))
	dialSecs := promptInt(reader, out, "Backend dial timeout (seconds)", int(config.DefaultDialTimeout/time.Second))
	dnsServer := promptString(reader, out, "DNS server for backend names (empty = system)", "", "")

	secret := strings.TrimSpace(promptString(reader, out, "Secret, 32 hex chars (leave empty to auto-generate)", "", ""))
	if secret == "" {
		generated, err := config.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret failed: %w", err)
		}
		secret = generated
		fmt.Fprintf(out, "Generated secret: %s\n", secret)
	}

	cfg := &config.Config{
		Host:             config.DefaultHost,
		Port:             port,
		Secret:           strings.ToLower(secret),
		PublicHost:       host,
		HandshakeTimeout: time.Duration(handshakeSecs) * time.Second,
		DialTimeout:      time.Duration(dialSecs) * time.Second,
		DNSServer:        dnsServer,
		LogLevel:         config.DefaultLogLevel,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	path := promptString(reader, out, "Config output path", defaultPath, "mtrelay.yaml")
	if err := config.Save(path, cfg); err != nil {
		return nil, fmt.Errorf("save config: %w", err)
	}

	link, err := config.BuildShareLink(cfg, "")
	if err != nil {
		return nil, fmt.Errorf("build share link: %w", err)
	}

	return &WizardResult{
		Config:     cfg,
		ConfigPath: path,
		ShareLink:  link,
	}, nil
}

func promptString(r *bufio.Reader, w io.Writer, label, current, fallback string) string {
	displayDefault := current
	if displayDefault == "" {
		displayDefault = fallback
	}
	fmt.Fprintf(w, "%s [%s]: ", label, displayDefault)
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return displayDefault
	}
	return line
}

func promptInt(r *bufio.Reader, w io.Writer, label string, def int) int {
	fmt.Fprintf(w, "%s [%d]: ", label, def)
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	val, err := strconv.Atoi(line)
	if err != nil {
		fmt.Fprintf(w, "Invalid number, using %d\n", def)
		return def
	}
	return val
}
