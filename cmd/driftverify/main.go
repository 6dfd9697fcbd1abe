// Command driftverify is a standalone tool for verifying driftd artifacts.
//
// It can verify artifacts without a running driftd daemon, making it
// suitable for:
// - Offline verification
// - Third-party audits
// - Automated verification pipelines
//
// Usage:
//
//	driftverify [flags] <artifact.json>
//
// Examples:
//
//	# Verify a hash chain
//	driftverify chain.json
//
//	# Verify an audit certificate with JSON output
//	driftverify -format json case-42.certificate.json
//
//	# Verify a detached signature against the signed document
//	driftverify -document report.json signature.json
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"driftd/internal/chain"
	"driftd/internal/proof"
	"driftd/internal/signer"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

type result struct {
	Artifact string `json:"artifact"`
	Kind     string `json:"kind"`
	Valid    bool   `json:"valid"`
	Detail   string `json:"detail,omitempty"`
	Links    int    `json:"links,omitempty"`
	Proofs   int    `json:"proofs,omitempty"`
}

func main() {
	kindStr := flag.String("kind", "auto", "artifact kind: auto, chain, certificate, signature")
	formatStr := flag.String("format", "text", "output format: text, json")
	document := flag.String("document", "", "document file for signature verification")
	quiet := flag.Bool("quiet", false, "quiet mode, only the exit code reports the result")
	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "driftverify - Verify driftd artifacts\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <artifact.json>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nArtifact Kinds:\n")
		fmt.Fprintf(os.Stderr, "  chain       - Hash chain file written by driftd\n")
		fmt.Fprintf(os.Stderr, "  certificate - Audit certificate from driftctl\n")
		fmt.Fprintf(os.Stderr, "  signature   - Detached signature (requires -document)\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s chain.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -format json case-42.certificate.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -document report.json signature.json\n", os.Args[0])
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("driftverify %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: artifact file required\n\n")
		flag.Usage()
		os.Exit(2)
	}

	artifact := flag.Arg(0)

	data, err := os.ReadFile(artifact)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading artifact: %v\n", err)
		os.Exit(1)
	}

	kind := *kindStr
	if kind == "auto" {
		kind = detectKind(data)
		if kind == "" {
			fmt.Fprintf(os.Stderr, "Error: could not determine artifact kind, use -kind\n")
			os.Exit(2)
		}
	}

	var res result
	res.Artifact = artifact
	res.Kind = kind

	switch kind {
	case "chain":
		res = verifyChain(artifact, data, res)
	case "certificate":
		res = verifyCertificate(data, res)
	case "signature":
		if *document == "" {
			fmt.Fprintf(os.Stderr, "Error: -document is required for signature verification\n")
			os.Exit(2)
		}
		res = verifySignature(data, *document, res)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown artifact kind %q\n", kind)
		os.Exit(2)
	}

	if !*quiet {
		switch *formatStr {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(res)
		default:
			printText(res)
		}
	}

	if !res.Valid {
		os.Exit(1)
	}
}

// detectKind inspects the artifact's top-level fields.
func detectKind(data []byte) string {
	var probe struct {
		Links           []json.RawMessage `json:"links"`
		CertificateType string            `json:"certificate_type"`
		SignatureValue  string            `json:"signature_value"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	switch {
	case probe.CertificateType != "":
		return "certificate"
	case probe.SignatureValue != "":
		return "signature"
	case probe.Links != nil:
		return "chain"
	default:
		return ""
	}
}

func verifyChain(path string, data []byte, res result) result {
	c, err := chain.Load(path)
	if err != nil {
		res.Detail = fmt.Sprintf("load failed: %v", err)
		return res
	}
	res.Links = c.Len()

	if err := c.Verify(); err != nil {
		var ierr *chain.IntegrityError
		if errors.As(err, &ierr) {
			res.Detail = fmt.Sprintf("broken at link %d: %s", ierr.Index, ierr.Reason)
		} else {
			res.Detail = err.Error()
		}
		return res
	}

	res.Valid = true
	res.Detail = fmt.Sprintf("merkle root %s", c.MerkleRoot())
	return res
}

func verifyCertificate(data []byte, res result) result {
	var cert proof.Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		res.Detail = fmt.Sprintf("parse failed: %v", err)
		return res
	}
	res.Proofs = len(cert.Proofs)

	if err := proof.VerifyCertificate(&cert); err != nil {
		res.Detail = err.Error()
		return res
	}

	res.Valid = true
	res.Detail = fmt.Sprintf("merkle root %s", cert.MerkleRoot)
	return res
}

func verifySignature(data []byte, documentPath string, res result) result {
	var sig signer.Signature
	if err := json.Unmarshal(data, &sig); err != nil {
		res.Detail = fmt.Sprintf("parse failed: %v", err)
		return res
	}

	document, err := os.ReadFile(documentPath)
	if err != nil {
		res.Detail = fmt.Sprintf("read document: %v", err)
		return res
	}

	ok, err := signer.VerifySelf(document, &sig)
	if err != nil {
		res.Detail = err.Error()
		return res
	}

	res.Valid = ok
	if ok {
		res.Detail = fmt.Sprintf("signed by %s at %s", sig.SignerIdentity, sig.Timestamp)
	}
	return res
}

func printText(res result) {
	status := "FAIL"
	if res.Valid {
		status = "OK"
	}
	fmt.Printf("%s  %s (%s)\n", status, res.Artifact, res.Kind)
	if res.Links > 0 {
		fmt.Printf("      links: %d\n", res.Links)
	}
	if res.Proofs > 0 {
		fmt.Printf("      proofs: %d\n", res.Proofs)
	}
	if res.Detail != "" {
		fmt.Printf("      %s\n", res.Detail)
	}
}
