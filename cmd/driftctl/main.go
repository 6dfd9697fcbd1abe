// driftctl is the control CLI for driftd.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"driftd/internal/capture"
	"driftd/internal/chain"
	"driftd/internal/config"
	"driftd/internal/degrade"
	"driftd/internal/proof"
	"driftd/internal/signer"
	"driftd/internal/store"
	"driftd/internal/temporal"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath(), "path to config file")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)

	switch cmd {
	case "status":
		cmdStatus()
	case "analyze":
		if flag.NArg() < 3 {
			fmt.Fprintln(os.Stderr, "Usage: driftctl analyze <origin-file> <control-file>")
			os.Exit(1)
		}
		cmdAnalyze(flag.Arg(1), flag.Arg(2))
	case "trend":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: driftctl trend <stream-id> [hours]")
			os.Exit(1)
		}
		hours := 24
		if flag.NArg() >= 3 {
			fmt.Sscanf(flag.Arg(2), "%d", &hours)
		}
		cmdTrend(flag.Arg(1), hours)
	case "alerts":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: driftctl alerts <stream-id> [limit]")
			os.Exit(1)
		}
		limit := 20
		if flag.NArg() >= 3 {
			fmt.Sscanf(flag.Arg(2), "%d", &limit)
		}
		cmdAlerts(flag.Arg(1), limit)
	case "keygen":
		cmdKeygen()
	case "sign":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: driftctl sign <file> [output.json]")
			os.Exit(1)
		}
		output := ""
		if flag.NArg() >= 3 {
			output = flag.Arg(2)
		}
		cmdSign(flag.Arg(1), output)
	case "proof":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: driftctl proof <file> [output.json]")
			os.Exit(1)
		}
		output := ""
		if flag.NArg() >= 3 {
			output = flag.Arg(2)
		}
		cmdProof(flag.Arg(1), output)
	case "certificate":
		if flag.NArg() < 3 {
			fmt.Fprintln(os.Stderr, "Usage: driftctl certificate <case-id> <file>... [-o output.json]")
			os.Exit(1)
		}
		cmdCertificate(flag.Arg(1), flag.Args()[2:])
	case "export":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: driftctl export <session-id> [output.json]")
			os.Exit(1)
		}
		output := ""
		if flag.NArg() >= 3 {
			output = flag.Arg(2)
		}
		cmdExport(flag.Arg(1), output)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `driftctl - Control utility for driftd

Usage: driftctl [options] <command> [args]

Commands:
  status                      Show chain and store statistics
  analyze <origin> <control>  Analyze two text files and print the matrix
  trend <stream-id> [hours]   Trend analysis over the given window (default 24h)
  alerts <stream-id> [limit]  Print recent alerts for a stream
  keygen                      Generate and store a signing keypair
  sign <file> [out]           Sign a file and print the detached signature
  proof <file> [out]          Generate an existence proof for a file
  certificate <case> <f>...   Generate an audit certificate over files
  export <session-id> [out]   Export a signed report for a captured entry
  help                        Show this help message

Options:
  -config <path>  Path to config file (default: ~/.config/driftd/driftd.toml)`)
}

func loadConfig() *config.Config {
	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newEngine(cfg *config.Config) *degrade.Engine {
	opts := []degrade.Option{
		degrade.WithThresholds(degrade.Thresholds{
			High:     cfg.Engine.HighThreshold,
			Critical: cfg.Engine.CriticalThreshold,
		}),
	}
	if cfg.Engine.SignificanceEpsilon > 0 {
		opts = append(opts, degrade.WithSignificanceEpsilon(cfg.Engine.SignificanceEpsilon))
	}
	if cfg.Engine.SmoothingEpsilon > 0 {
		opts = append(opts, degrade.WithSmoothingEpsilon(cfg.Engine.SmoothingEpsilon))
	}
	return degrade.NewEngine(cfg.Identity.RootHash, cfg.Identity.CID, opts...)
}

func openStore(cfg *config.Config) *store.Store {
	db, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	return db
}

func loadSigner(cfg *config.Config) *signer.Signer {
	s := signer.New(cfg.Identity.SignerIdentity, cfg.Identity.RootHash)
	keyPath := filepath.Join(cfg.Storage.KeyDir, "signing_key.pem")
	if err := s.LoadKeypair(keyPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading signing key: %v\n", err)
		fmt.Fprintln(os.Stderr, "Run 'driftctl keygen' to generate one.")
		os.Exit(1)
	}
	return s
}

func printJSON(v interface{}, output string) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}
	if output == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(output, append(data, '\n'), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", output, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", output)
}

func cmdStatus() {
	cfg := loadConfig()

	fmt.Println("=== driftd Status ===")
	fmt.Println()
	fmt.Printf("Identity: %s / %s\n", shortHash(cfg.Identity.RootHash), cfg.Identity.CID)
	fmt.Println()

	fmt.Println("Chain:")
	if _, err := os.Stat(cfg.Storage.ChainPath); os.IsNotExist(err) {
		fmt.Println("  No chain found")
	} else {
		c, err := chain.Load(cfg.Storage.ChainPath)
		if err != nil {
			fmt.Printf("  Error loading chain: %v\n", err)
		} else {
			s := c.Summarize()
			fmt.Printf("  Links:       %d\n", s.Length)
			fmt.Printf("  Merkle root: %s\n", s.MerkleRoot)
			fmt.Printf("  Valid:       %v\n", s.Valid)
			if !s.LastLink.IsZero() {
				fmt.Printf("  Last link:   %s\n", s.LastLink.Format(time.RFC3339))
			}
		}
	}
	fmt.Println()

	fmt.Println("Database:")
	if _, err := os.Stat(cfg.Storage.DatabasePath); os.IsNotExist(err) {
		fmt.Println("  No database found")
		return
	}
	db := openStore(cfg)
	defer db.Close()
	links, err := db.LinkCount()
	if err != nil {
		fmt.Printf("  Error reading database: %v\n", err)
		return
	}
	fmt.Printf("  Stored links: %d\n", links)
}

func cmdAnalyze(originPath, controlPath string) {
	cfg := loadConfig()

	origin, err := os.ReadFile(originPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", originPath, err)
		os.Exit(1)
	}
	control, err := os.ReadFile(controlPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", controlPath, err)
		os.Exit(1)
	}

	engine := newEngine(cfg)
	matrix, err := engine.Analyze(string(origin), string(control))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Analysis failed: %v\n", err)
		os.Exit(1)
	}

	printJSON(matrix, "")
}

func cmdTrend(streamID string, hours int) {
	cfg := loadConfig()
	db := openStore(cfg)
	defer db.Close()

	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)

	points, err := db.PointsForPeriod(streamID, start, end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading period: %v\n", err)
		os.Exit(1)
	}

	metrics, err := temporal.AnalyzePeriod(points, temporal.Config{
		StableSlope:           cfg.Temporal.StableSlope,
		SteepSlope:            cfg.Temporal.SteepSlope,
		MeanRiskFloor:         cfg.Temporal.MeanRiskFloor,
		InterventionRateFloor: cfg.Temporal.InterventionRateFloor,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Trend analysis failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Trend: %s (last %dh) ===\n", streamID, hours)
	fmt.Printf("Samples:       %d\n", metrics.Count)
	fmt.Printf("Mean index:    %.4f\n", metrics.MeanIndex)
	fmt.Printf("Slope:         %.4f\n", metrics.Slope)
	fmt.Printf("Direction:     %s\n", metrics.Direction)
	fmt.Printf("Risk:          %s\n", metrics.Risk)
	fmt.Printf("Interventions: %d\n", metrics.Interventions)
}

func cmdAlerts(streamID string, limit int) {
	cfg := loadConfig()
	db := openStore(cfg)
	defer db.Close()

	alerts, err := db.AlertsByStream(streamID, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading alerts: %v\n", err)
		os.Exit(1)
	}
	if len(alerts) == 0 {
		fmt.Printf("No alerts for stream %s\n", streamID)
		return
	}
	for _, a := range alerts {
		fmt.Printf("%s  %-8s  index=%.4f  %s\n",
			a.Timestamp.Format(time.RFC3339), a.Level, a.Index, a.Message)
	}
}

func cmdKeygen() {
	cfg := loadConfig()

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing key directory: %v\n", err)
		os.Exit(1)
	}

	keyPath := filepath.Join(cfg.Storage.KeyDir, "signing_key.pem")
	if _, err := os.Stat(keyPath); err == nil {
		fmt.Fprintf(os.Stderr, "Key already exists at %s\n", keyPath)
		os.Exit(1)
	}

	s := signer.New(cfg.Identity.SignerIdentity, cfg.Identity.RootHash)
	if err := s.GenerateKeypair(); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating keypair: %v\n", err)
		os.Exit(1)
	}
	if err := s.SaveKeypair(cfg.Storage.KeyDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving keypair: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Keypair written to %s\n", cfg.Storage.KeyDir)
}

func cmdSign(path, output string) {
	cfg := loadConfig()
	s := loadSigner(cfg)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		os.Exit(1)
	}

	sig, err := s.Sign(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Signing failed: %v\n", err)
		os.Exit(1)
	}

	printJSON(sig, output)
}

func cmdProof(path, output string) {
	cfg := loadConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		os.Exit(1)
	}

	gen := proof.NewGenerator(cfg.Identity.RootHash, cfg.Identity.CID, cfg.Identity.Issuer)
	p := gen.GenerateProof(data, map[string]string{
		"filename": filepath.Base(path),
	})

	printJSON(p, output)
}

func cmdCertificate(caseID string, args []string) {
	output := ""
	files := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "-o" && i+1 < len(args) {
			output = args[i+1]
			i++
			continue
		}
		files = append(files, args[i])
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: driftctl certificate <case-id> <file>... [-o output.json]")
		os.Exit(1)
	}

	cfg := loadConfig()
	gen := proof.NewGenerator(cfg.Identity.RootHash, cfg.Identity.CID, cfg.Identity.Issuer)

	proofs := make([]*proof.Proof, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
			os.Exit(1)
		}
		proofs = append(proofs, gen.GenerateProof(data, map[string]string{
			"filename": filepath.Base(path),
		}))
	}

	cert := gen.GenerateCertificate(proofs, caseID)
	if output == "" {
		output = strings.ReplaceAll(caseID, string(filepath.Separator), "_") + ".certificate.json"
	}
	printJSON(cert, output)
}

func cmdExport(sessionID, output string) {
	cfg := loadConfig()
	s := loadSigner(cfg)

	recorder := capture.NewRecorder(cfg.Identity.RootHash, cfg.Identity.CID)
	log, err := capture.OpenLog(cfg.Storage.CaptureLogPath, recorder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening capture log: %v\n", err)
		os.Exit(1)
	}

	entry, err := log.Get(sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading entry: %v\n", err)
		os.Exit(1)
	}
	if entry == nil {
		fmt.Fprintf(os.Stderr, "No entry with session id %s\n", sessionID)
		os.Exit(1)
	}
	if !recorder.VerifyEntry(entry) {
		fmt.Fprintf(os.Stderr, "Entry %s failed hash verification\n", sessionID)
		os.Exit(1)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding entry: %v\n", err)
		os.Exit(1)
	}

	report, err := s.CreateSignedReport(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing report: %v\n", err)
		os.Exit(1)
	}

	printJSON(report, output)
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
