package proof

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRootHash = "606a347f6e2502a23179c18e4a637ca15138aa2f04194c6e6a578f8d1f8d7287"
	testCID      = "bafybeihqz3x7k5t2m4n6p8r9s1v3w5y7a9c1e3g5i7k9m1o3q5s7u9w1y3"
	testIssuer   = "driftd-test"
)

func testGenerator() *Generator {
	g := NewGenerator(testRootHash, testCID, testIssuer)
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	g.SetClock(func() time.Time { return ts })
	return g
}

func TestGenerateProof(t *testing.T) {
	g := testGenerator()

	p := g.GenerateProof([]byte("document under proof"), map[string]string{"k": "v"})

	assert.Len(t, p.ProofID, 16)
	assert.Len(t, p.DocumentHash, 64)
	assert.Len(t, p.FinalHash, 64)
	assert.Equal(t, testRootHash, p.RootHash)
	assert.Equal(t, testCID, p.CID)
	assert.Equal(t, "v", p.Metadata["k"])
}

func TestGenerateProofDeterministicHashes(t *testing.T) {
	g := testGenerator()

	p1 := g.GenerateProof([]byte("same document"), nil)
	p2 := g.GenerateProof([]byte("same document"), nil)

	// Document and final hashes depend only on content and identity.
	assert.Equal(t, p1.DocumentHash, p2.DocumentHash)
	assert.Equal(t, p1.FinalHash, p2.FinalHash)
}

func TestVerifyProof(t *testing.T) {
	g := testGenerator()
	doc := []byte("document under proof")

	p := g.GenerateProof(doc, nil)

	require.NoError(t, VerifyProof(doc, p, testRootHash, testCID))
}

func TestVerifyProofTamperedDocument(t *testing.T) {
	g := testGenerator()

	p := g.GenerateProof([]byte("original"), nil)

	err := VerifyProof([]byte("tampered"), p, testRootHash, testCID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProofMismatch)
}

func TestVerifyProofWrongIdentity(t *testing.T) {
	g := testGenerator()
	doc := []byte("document")

	p := g.GenerateProof(doc, nil)

	err := VerifyProof(doc, p, testRootHash, "bafybeimismatchedcid")
	assert.ErrorIs(t, err, ErrProofMismatch)
}

func TestVerifyProofTamperedFinalHash(t *testing.T) {
	g := testGenerator()
	doc := []byte("document")

	p := g.GenerateProof(doc, nil)
	p.FinalHash = p.DocumentHash // plausible-looking but wrong

	assert.ErrorIs(t, VerifyProof(doc, p, testRootHash, testCID), ErrProofMismatch)
}

func TestGenerateBatch(t *testing.T) {
	g := testGenerator()

	docs := [][]byte{
		[]byte("first document"),
		[]byte("second document"),
		[]byte("third document"),
	}
	proofs := g.GenerateBatch(docs, map[string]string{"batch": "yes"})

	require.Len(t, proofs, 3)
	for i, p := range proofs {
		assert.NoError(t, VerifyProof(docs[i], p, testRootHash, testCID))
	}
}

func TestGenerateCertificate(t *testing.T) {
	g := testGenerator()

	proofs := g.GenerateBatch([][]byte{
		[]byte("exhibit one"),
		[]byte("exhibit two"),
	}, nil)

	cert := g.GenerateCertificate(proofs, "case-42")

	assert.Equal(t, CertificateType, cert.Type)
	assert.Equal(t, CertificateVersion, cert.Version)
	assert.Equal(t, "case-42", cert.CaseID)
	assert.Equal(t, testIssuer, cert.Issuer)
	assert.Equal(t, 2, cert.TotalProofs)
	assert.Equal(t, MerkleRoot(proofs), cert.MerkleRoot)

	require.NoError(t, VerifyCertificate(cert))
}

func TestVerifyCertificateTampered(t *testing.T) {
	g := testGenerator()

	proofs := g.GenerateBatch([][]byte{
		[]byte("exhibit one"),
		[]byte("exhibit two"),
	}, nil)
	cert := g.GenerateCertificate(proofs, "case-42")

	// Swapping proof order changes the merkle root.
	cert.Proofs[0], cert.Proofs[1] = cert.Proofs[1], cert.Proofs[0]
	assert.ErrorIs(t, VerifyCertificate(cert), ErrProofMismatch)
}

func TestVerifyCertificateCountMismatch(t *testing.T) {
	g := testGenerator()

	proofs := g.GenerateBatch([][]byte{[]byte("only exhibit")}, nil)
	cert := g.GenerateCertificate(proofs, "case-7")
	cert.TotalProofs = 2

	assert.Error(t, VerifyCertificate(cert))
}

func TestMerkleRootEmpty(t *testing.T) {
	assert.Equal(t, MerkleRoot(nil), MerkleRoot([]*Proof{}))
}
