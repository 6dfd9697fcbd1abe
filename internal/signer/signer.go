// Package signer handles the ECDSA key lifecycle and document signing for
// evidence attestation.
//
// A Signer starts with no key material and must load or generate a keypair
// before signing. Private material never leaves the signer except through
// the explicit SaveKeypair call, and is never serialized into evidence
// artifacts.
package signer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Errors
var (
	ErrKeypairNotFound       = errors.New("signer: no keypair loaded")
	ErrInvalidKeyFormat      = errors.New("signer: invalid key format")
	ErrUnsupportedKey        = errors.New("signer: unsupported key type (expected ECDSA)")
	ErrKeyDecryption         = errors.New("signer: key is encrypted (passphrase required)")
	ErrSignatureVerification = errors.New("signer: signature verification failed")
)

// Algorithm identifies the signature scheme in serialized artifacts.
const Algorithm = "ECDSA-P256-SHA256"

// Signature is a verifiable signature over a document's canonical hash.
type Signature struct {
	DocumentHash   string    `json:"document_hash"`
	SignatureValue string    `json:"signature_value"` // hex ASN.1 DER
	PublicKeyPEM   string    `json:"public_key"`
	Algorithm      string    `json:"algorithm"`
	Timestamp      time.Time `json:"timestamp"`
	SignerIdentity string    `json:"signer_identity"`
	RootHash       string    `json:"root_hash"`
}

// Signer signs documents once a keypair is loaded. Safe for concurrent
// use; key replacement and signing are serialized.
type Signer struct {
	mu       sync.RWMutex
	priv     *ecdsa.PrivateKey
	identity string
	rootHash string
}

// New creates a Signer with no key material.
func New(identity, rootHash string) *Signer {
	return &Signer{identity: identity, rootHash: rootHash}
}

// HasKey reports whether a keypair is loaded.
func (s *Signer) HasKey() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priv != nil
}

// GenerateKeypair creates a fresh P-256 keypair and loads it.
func (s *Signer) GenerateKeypair() error {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}

	s.mu.Lock()
	s.priv = priv
	s.mu.Unlock()
	return nil
}

// SaveKeypair writes the private key (PEM, 0600) and public key (PEM,
// 0644) under dir.
func (s *Signer) SaveKeypair(dir string) error {
	s.mu.RLock()
	priv := s.priv
	s.mu.RUnlock()
	if priv == nil {
		return ErrKeypairNotFound
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	privDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(filepath.Join(dir, "signing_key.pem"), privPEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	pubPEM, err := MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "signing_key.pub.pem"), []byte(pubPEM), 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	return nil
}

// LoadKeypair reads a private key from file and loads it. Supports PEM
// (EC PRIVATE KEY / PKCS#8) and OpenSSH format.
func (s *Signer) LoadKeypair(path string) error {
	priv, err := LoadPrivateKey(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.priv = priv
	s.mu.Unlock()
	return nil
}

// PublicKey returns the loaded public key, or nil before key load.
func (s *Signer) PublicKey() *ecdsa.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.priv == nil {
		return nil
	}
	return &s.priv.PublicKey
}

// Sign produces a signature over SHA-256 of the document. Fails with
// ErrKeypairNotFound before a key is loaded or generated.
func (s *Signer) Sign(document []byte) (*Signature, error) {
	s.mu.RLock()
	priv := s.priv
	s.mu.RUnlock()
	if priv == nil {
		return nil, ErrKeypairNotFound
	}

	docHash := sha256.Sum256(document)
	sigDER, err := ecdsa.SignASN1(rand.Reader, priv, docHash[:])
	if err != nil {
		return nil, fmt.Errorf("sign document: %w", err)
	}

	pubPEM, err := MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}

	return &Signature{
		DocumentHash:   hex.EncodeToString(docHash[:]),
		SignatureValue: hex.EncodeToString(sigDER),
		PublicKeyPEM:   pubPEM,
		Algorithm:      Algorithm,
		Timestamp:      time.Now().UTC(),
		SignerIdentity: s.identity,
		RootHash:       s.rootHash,
	}, nil
}

// Verify checks a signature over the document against the given public
// key. The boolean is the contract-level answer; the error carries the
// informational distinction between malformed input and a mismatched key.
func Verify(document []byte, sig *Signature, pub *ecdsa.PublicKey) (bool, error) {
	if sig == nil || pub == nil {
		return false, fmt.Errorf("%w: missing signature or key", ErrSignatureVerification)
	}

	docHash := sha256.Sum256(document)
	if hex.EncodeToString(docHash[:]) != sig.DocumentHash {
		return false, fmt.Errorf("%w: document hash mismatch", ErrSignatureVerification)
	}

	sigDER, err := hex.DecodeString(sig.SignatureValue)
	if err != nil {
		return false, fmt.Errorf("%w: malformed signature encoding", ErrSignatureVerification)
	}

	if !ecdsa.VerifyASN1(pub, docHash[:], sigDER) {
		return false, fmt.Errorf("%w: signature does not match key", ErrSignatureVerification)
	}
	return true, nil
}

// VerifySelf checks a signature against the public key it embeds.
func VerifySelf(document []byte, sig *Signature) (bool, error) {
	if sig == nil {
		return false, fmt.Errorf("%w: missing signature", ErrSignatureVerification)
	}
	pub, err := ParsePublicKey([]byte(sig.PublicKeyPEM))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	return Verify(document, sig, pub)
}

// SignedReport wraps a report payload with its signature for export.
type SignedReport struct {
	Report    json.RawMessage `json:"report"`
	Signature *Signature      `json:"signature"`
}

// CreateSignedReport signs a JSON report payload.
func (s *Signer) CreateSignedReport(report json.RawMessage) (*SignedReport, error) {
	sig, err := s.Sign(report)
	if err != nil {
		return nil, err
	}
	return &SignedReport{Report: report, Signature: sig}, nil
}

// PublicKeyCertificate is the exportable public-key statement for
// independent verifiers.
type PublicKeyCertificate struct {
	PublicKeyPEM   string    `json:"public_key"`
	Algorithm      string    `json:"algorithm"`
	SignerIdentity string    `json:"signer_identity"`
	RootHash       string    `json:"root_hash"`
	IssuedAt       time.Time `json:"issued_at"`
	Fingerprint    string    `json:"fingerprint"` // SHA-256 of the DER public key
}

// ExportPublicKeyCertificate builds the exportable statement for the
// loaded public key.
func (s *Signer) ExportPublicKeyCertificate() (*PublicKeyCertificate, error) {
	s.mu.RLock()
	priv := s.priv
	s.mu.RUnlock()
	if priv == nil {
		return nil, ErrKeypairNotFound
	}

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	fp := sha256.Sum256(der)

	pubPEM, err := MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}

	return &PublicKeyCertificate{
		PublicKeyPEM:   pubPEM,
		Algorithm:      Algorithm,
		SignerIdentity: s.identity,
		RootHash:       s.rootHash,
		IssuedAt:       time.Now().UTC(),
		Fingerprint:    hex.EncodeToString(fp[:]),
	}, nil
}

// LoadPrivateKey reads an ECDSA private key from file. Supports PEM
// (EC PRIVATE KEY, PKCS#8) and OpenSSH format.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, ErrInvalidKeyFormat
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		priv, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse key: %w", err)
		}
		return priv, nil

	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse key: %w", err)
		}
		priv, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, parsed)
		}
		return priv, nil

	default:
		return parseOpenSSHKey(keyData)
	}
}

// parseOpenSSHKey parses an OpenSSH private key file.
func parseOpenSSHKey(keyData []byte) (*ecdsa.PrivateKey, error) {
	parsedKey, err := ssh.ParseRawPrivateKey(keyData)
	if err != nil {
		if _, ok := err.(*ssh.PassphraseMissingError); ok {
			return nil, ErrKeyDecryption
		}
		return nil, fmt.Errorf("parse key: %w", err)
	}

	priv, ok := parsedKey.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, parsedKey)
	}
	return priv, nil
}

// LoadPublicKey reads an ECDSA public key from file. Supports PEM and
// OpenSSH authorized-key format (ecdsa-sha2-nistp256 ...).
func LoadPublicKey(path string) (*ecdsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	if pub, err := ParsePublicKey(keyData); err == nil {
		return pub, nil
	}

	sshPub, _, _, _, err := ssh.ParseAuthorizedKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	cryptoPub, ok := sshPub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, ErrInvalidKeyFormat
	}
	pub, ok := cryptoPub.CryptoPublicKey().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, cryptoPub.CryptoPublicKey())
	}
	return pub, nil
}

// ParsePublicKey parses a PEM-encoded ECDSA public key.
func ParsePublicKey(pemData []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKeyFormat
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, parsed)
	}
	return pub, nil
}

// MarshalPublicKey encodes a public key as PKIX PEM.
func MarshalPublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
