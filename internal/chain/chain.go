// Package chain implements the append-only evidence integrity chain.
//
// Each link binds one evidence hash to the previous link and to the
// deployment's root identifiers:
//
//	link_hash = SHA-256(entry_hash || prev_link_hash || ROOT_HASH || CID)
//
// with the genesis link's predecessor being ROOT_HASH itself. Links are
// created exactly once and never edited; the chain exclusively owns the
// ordering. Appends are strictly serialized (single-writer discipline) so
// two links can never claim the same predecessor.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrChainIntegrity is the sentinel wrapped by IntegrityError.
var ErrChainIntegrity = errors.New("chain: integrity violation")

// ErrInvalidInput is returned for malformed append arguments.
var ErrInvalidInput = errors.New("chain: invalid input")

// IntegrityError reports the first broken link found by Verify. All links
// after Index are untrusted.
type IntegrityError struct {
	Index  int
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("chain: link %d: %s", e.Index, e.Reason)
}

func (e *IntegrityError) Unwrap() error { return ErrChainIntegrity }

// Link is one element of the chain. Hash fields are lowercase hex so
// independent reimplementations can recompute them from the serialized
// record alone.
type Link struct {
	Ordinal   uint64            `json:"ordinal"`
	EntryHash string            `json:"entry_hash"`
	PrevHash  string            `json:"prev_hash"`
	LinkHash  string            `json:"link_hash"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Chain is an arena of links with an atomically advanced tail.
type Chain struct {
	RootHash  string    `json:"root_hash"`
	CID       string    `json:"cid"`
	CreatedAt time.Time `json:"created_at"`
	Links     []*Link   `json:"links"`

	mu          sync.Mutex
	storagePath string
}

// New creates an empty chain bound to the root identifiers.
func New(rootHash, cid string) *Chain {
	return &Chain{
		RootHash:  rootHash,
		CID:       cid,
		CreatedAt: time.Now().UTC(),
		Links:     make([]*Link, 0),
	}
}

// Append seals a new link over the evidence hash and advances the tail.
// Serialized: concurrent appenders observe a total order.
func (c *Chain) Append(entryHash string, metadata map[string]string) (*Link, error) {
	if entryHash == "" {
		return nil, fmt.Errorf("%w: empty entry hash", ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.RootHash
	if n := len(c.Links); n > 0 {
		prev = c.Links[n-1].LinkHash
	}

	link := &Link{
		Ordinal:   uint64(len(c.Links)),
		EntryHash: entryHash,
		PrevHash:  prev,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
	link.LinkHash = computeLinkHash(link.EntryHash, link.PrevHash, c.RootHash, c.CID)

	c.Links = append(c.Links, link)
	return link, nil
}

// computeLinkHash is the chain's binding function. The separator and field
// order are a compatibility contract; changing them requires a version
// bump.
func computeLinkHash(entryHash, prevHash, rootHash, cid string) string {
	var b strings.Builder
	b.WriteString(entryHash)
	b.WriteString("||")
	b.WriteString(prevHash)
	b.WriteString("||")
	b.WriteString(rootHash)
	b.WriteString("||")
	b.WriteString(cid)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes every link hash and predecessor binding. It returns an
// IntegrityError carrying the index of the first broken link; trust in all
// subsequent links must halt there.
func (c *Chain) Verify() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifyLocked()
}

func (c *Chain) verifyLocked() error {
	for i, link := range c.Links {
		expectedPrev := c.RootHash
		if i > 0 {
			expectedPrev = c.Links[i-1].LinkHash
		}
		if link.PrevHash != expectedPrev {
			return &IntegrityError{Index: i, Reason: "broken chain link"}
		}

		computed := computeLinkHash(link.EntryHash, link.PrevHash, c.RootHash, c.CID)
		if computed != link.LinkHash {
			return &IntegrityError{Index: i, Reason: "link hash mismatch"}
		}

		if link.Ordinal != uint64(i) {
			return &IntegrityError{Index: i, Reason: "ordinal out of sequence"}
		}
	}
	return nil
}

// Len returns the number of links.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Links)
}

// Latest returns the tail link, or nil if the chain is empty.
func (c *Chain) Latest() *Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Links) == 0 {
		return nil
	}
	return c.Links[len(c.Links)-1]
}

// At returns the link at a given ordinal.
func (c *Chain) At(ordinal uint64) (*Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ordinal >= uint64(len(c.Links)) {
		return nil, errors.New("chain: ordinal out of range")
	}
	return c.Links[ordinal], nil
}

// MerkleRoot hashes the concatenation of all link hashes into a single
// period digest. Empty chains yield the empty string.
func (c *Chain) MerkleRoot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Links) == 0 {
		return ""
	}
	var b strings.Builder
	for _, link := range c.Links {
		b.WriteString(link.LinkHash)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Summary is a human-readable digest of the chain state.
type Summary struct {
	Length     int       `json:"length"`
	RootHash   string    `json:"root_hash"`
	CID        string    `json:"cid"`
	MerkleRoot string    `json:"merkle_root"`
	FirstLink  time.Time `json:"first_link,omitempty"`
	LastLink   time.Time `json:"last_link,omitempty"`
	Valid      bool      `json:"valid"`
}

// Summarize verifies and summarizes the chain.
func (c *Chain) Summarize() Summary {
	s := Summary{
		Length:     c.Len(),
		RootHash:   c.RootHash,
		CID:        c.CID,
		MerkleRoot: c.MerkleRoot(),
		Valid:      c.Verify() == nil,
	}
	c.mu.Lock()
	if len(c.Links) > 0 {
		s.FirstLink = c.Links[0].Timestamp
		s.LastLink = c.Links[len(c.Links)-1].Timestamp
	}
	c.mu.Unlock()
	return s
}

// Save persists the chain as JSON with restrictive permissions.
func (c *Chain) Save(path string) error {
	c.mu.Lock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal chain: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create chain directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write chain: %w", err)
	}

	c.mu.Lock()
	c.storagePath = path
	c.mu.Unlock()
	return nil
}

// Load reads a chain from disk.
func Load(path string) (*Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain: %w", err)
	}

	var c Chain
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal chain: %w", err)
	}
	c.storagePath = path
	return &c, nil
}

// GetOrCreate loads the chain file if present, otherwise returns a fresh
// chain that will persist to that path.
func GetOrCreate(path, rootHash, cid string) (*Chain, error) {
	if _, err := os.Stat(path); err == nil {
		c, err := Load(path)
		if err != nil {
			return nil, err
		}
		if c.RootHash != rootHash || c.CID != cid {
			return nil, fmt.Errorf("chain: identity mismatch in %s", path)
		}
		return c, nil
	}

	c := New(rootHash, cid)
	c.storagePath = path
	return c, nil
}

// StoragePath returns where the chain persists, if set.
func (c *Chain) StoragePath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storagePath
}
