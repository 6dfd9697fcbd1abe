package schemavalidation

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"driftd/internal/proof"
)

type schemaCase struct {
	name         string
	schemaPath   string
	instancePath string
}

func TestSchemaValidation(t *testing.T) {
	repoRoot := repoRoot(t)
	cases := []schemaCase{
		{
			name:         "audit-certificate",
			schemaPath:   filepath.Join(repoRoot, "docs", "schema", "audit-certificate-v1.schema.json"),
			instancePath: filepath.Join(repoRoot, "docs", "spec", "fixtures", "audit-certificate-v1.json"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validateInstance(t, tc.schemaPath, tc.instancePath)
		})
	}
}

// TestGeneratedCertificateMatchesSchema ensures the serializer and the
// published schema do not drift apart.
func TestGeneratedCertificateMatchesSchema(t *testing.T) {
	repoRoot := repoRoot(t)
	schemaPath := filepath.Join(repoRoot, "docs", "schema", "audit-certificate-v1.schema.json")

	const rootHash = "606a347f6e2502a23179c18e4a637ca15138aa2f04194c6e6a578f8d1f8d7287"
	const cid = "bafybeihqz3x7k5t2m4n6p8r9s1v3w5y7a9c1e3g5i7k9m1o3q5s7u9w1y3"

	gen := proof.NewGenerator(rootHash, cid, "driftd")
	proofs := gen.GenerateBatch([][]byte{
		[]byte("first analysis report"),
		[]byte("second analysis report"),
	}, map[string]string{"stream_id": "case-test"})
	cert := gen.GenerateCertificate(proofs, "case-test")

	data, err := json.Marshal(cert)
	if err != nil {
		t.Fatalf("marshal certificate: %v", err)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		t.Fatalf("unmarshal certificate: %v", err)
	}

	schema := compileSchema(t, schemaPath)
	if err := schema.Validate(instance); err != nil {
		t.Fatalf("generated certificate violates schema: %v", err)
	}
}

func validateInstance(t *testing.T, schemaPath, instancePath string) {
	t.Helper()

	instanceData, err := os.ReadFile(instancePath)
	if err != nil {
		t.Fatalf("read instance: %v", err)
	}

	var instance any
	if err := json.Unmarshal(instanceData, &instance); err != nil {
		t.Fatalf("unmarshal instance: %v", err)
	}

	schema := compileSchema(t, schemaPath)
	if err := schema.Validate(instance); err != nil {
		t.Fatalf("schema validation failed for %s: %v", filepath.Base(instancePath), err)
	}
}

func compileSchema(t *testing.T, schemaPath string) *jsonschema.Schema {
	t.Helper()

	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaPath, bytes.NewReader(schemaData)); err != nil {
		t.Fatalf("add schema resource: %v", err)
	}
	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return schema
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("unable to resolve caller path")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
