// Package proof builds cryptographic proofs and audit certificates that
// bind document hashes to the deployment's root identifiers.
//
// A Proof is independently verifiable by anyone holding the document and
// the public root constants:
//
//	final_hash = SHA-256(document_hash || ROOT_HASH || CID)
//
// A Certificate aggregates an ordered list of Proofs with case metadata
// and a merkle root over their final hashes.
package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrProofMismatch is returned when a proof does not bind to its document
// or root constants.
var ErrProofMismatch = errors.New("proof: verification mismatch")

// CertificateType identifies certificate artifacts in serialized form.
const CertificateType = "driftd-audit-certificate"

// CertificateVersion bumps whenever the hash canonicalization changes.
const CertificateVersion = "v1"

// Proof binds one document hash to the root identifiers.
type Proof struct {
	ProofID      string            `json:"proof_id"`
	DocumentHash string            `json:"document_hash"`
	FinalHash    string            `json:"final_hash"`
	RootHash     string            `json:"root_hash"`
	CID          string            `json:"cid"`
	Timestamp    time.Time         `json:"timestamp"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Certificate is an ordered collection of proofs for external audit.
type Certificate struct {
	Type        string    `json:"certificate_type"`
	Version     string    `json:"version"`
	CaseID      string    `json:"case_id"`
	Issuer      string    `json:"issuer"`
	RootHash    string    `json:"root_hash"`
	CID         string    `json:"cid"`
	IssuedAt    time.Time `json:"issued_at"`
	TotalProofs int       `json:"total_proofs"`
	MerkleRoot  string    `json:"merkle_root"`
	Proofs      []*Proof  `json:"proofs"`
}

// Generator issues proofs bound to one identity pair.
type Generator struct {
	rootHash string
	cid      string
	issuer   string
	now      func() time.Time
}

// NewGenerator creates a proof generator for the given root identifiers.
func NewGenerator(rootHash, cid, issuer string) *Generator {
	return &Generator{rootHash: rootHash, cid: cid, issuer: issuer, now: time.Now}
}

// SetClock overrides the time source for deterministic tests.
func (g *Generator) SetClock(now func() time.Time) { g.now = now }

// GenerateProof computes the binding proof for a document.
func (g *Generator) GenerateProof(document []byte, metadata map[string]string) *Proof {
	ts := g.now().UTC()
	docHash := sha256.Sum256(document)
	docHashHex := hex.EncodeToString(docHash[:])

	idSum := sha256.Sum256([]byte(ts.Format(time.RFC3339Nano) + docHashHex))

	return &Proof{
		ProofID:      hex.EncodeToString(idSum[:8]),
		DocumentHash: docHashHex,
		FinalHash:    finalHash(docHashHex, g.rootHash, g.cid),
		RootHash:     g.rootHash,
		CID:          g.cid,
		Timestamp:    ts,
		Metadata:     metadata,
	}
}

// GenerateBatch issues proofs for a sequence of documents in order.
func (g *Generator) GenerateBatch(documents [][]byte, metadata map[string]string) []*Proof {
	proofs := make([]*Proof, len(documents))
	for i, doc := range documents {
		proofs[i] = g.GenerateProof(doc, metadata)
	}
	return proofs
}

// finalHash binds a document hash to the root constants. Separator and
// field order are a compatibility contract.
func finalHash(docHashHex, rootHash, cid string) string {
	sum := sha256.Sum256([]byte(docHashHex + "||" + rootHash + "||" + cid))
	return hex.EncodeToString(sum[:])
}

// VerifyProof checks a proof against the original document and the
// expected root constants. Four checks: document hash, final hash, root
// hash, CID.
func VerifyProof(document []byte, p *Proof, rootHash, cid string) error {
	docHash := sha256.Sum256(document)
	docHashHex := hex.EncodeToString(docHash[:])

	if p.DocumentHash != docHashHex {
		return fmt.Errorf("%w: document hash", ErrProofMismatch)
	}
	if p.FinalHash != finalHash(docHashHex, p.RootHash, p.CID) {
		return fmt.Errorf("%w: final hash", ErrProofMismatch)
	}
	if p.RootHash != rootHash {
		return fmt.Errorf("%w: root hash", ErrProofMismatch)
	}
	if p.CID != cid {
		return fmt.Errorf("%w: cid", ErrProofMismatch)
	}
	return nil
}

// GenerateCertificate aggregates ordered proofs under a case id.
func (g *Generator) GenerateCertificate(proofs []*Proof, caseID string) *Certificate {
	return &Certificate{
		Type:        CertificateType,
		Version:     CertificateVersion,
		CaseID:      caseID,
		Issuer:      g.issuer,
		RootHash:    g.rootHash,
		CID:         g.cid,
		IssuedAt:    g.now().UTC(),
		TotalProofs: len(proofs),
		MerkleRoot:  MerkleRoot(proofs),
		Proofs:      proofs,
	}
}

// MerkleRoot hashes the concatenation of all final hashes in order.
// Empty input yields the empty string.
func MerkleRoot(proofs []*Proof) string {
	if len(proofs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range proofs {
		b.WriteString(p.FinalHash)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// VerifyCertificate recomputes every proof's final hash and the aggregate
// merkle root from the declared document hashes and the certificate's
// root constants.
func VerifyCertificate(c *Certificate) error {
	if c.TotalProofs != len(c.Proofs) {
		return fmt.Errorf("%w: proof count", ErrProofMismatch)
	}
	for i, p := range c.Proofs {
		if p.RootHash != c.RootHash || p.CID != c.CID {
			return fmt.Errorf("%w: proof %d root constants", ErrProofMismatch, i)
		}
		if p.FinalHash != finalHash(p.DocumentHash, p.RootHash, p.CID) {
			return fmt.Errorf("%w: proof %d final hash", ErrProofMismatch, i)
		}
	}
	if c.MerkleRoot != MerkleRoot(c.Proofs) {
		return fmt.Errorf("%w: merkle root", ErrProofMismatch)
	}
	return nil
}
