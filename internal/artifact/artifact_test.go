package artifact_test

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"unicode/utf8"

	"swarmline/internal/artifact"
	"swarmline/internal/swarm"
)

func TestBuildContentAddressing(t *testing.T) {
	a := artifact.Build("task-1", "did:swarm:alpha", "hello world")
	sum := sha256.Sum256([]byte("hello world"))
	want := hex.EncodeToString(sum[:])
	if a.ContentCID != want {
		t.Fatalf("cid mismatch: %s", a.ContentCID)
	}
	if a.MerkleHash != a.ContentCID {
		t.Fatal("merkle hash must equal the content cid")
	}
	if a.SizeBytes != len("hello world") || a.ContentType != "text/plain" {
		t.Fatalf("bad metadata: %+v", a)
	}

	// Same content from a different producer gets the same cid but its own
	// artifact id.
	b := artifact.Build("task-1", "did:swarm:beta", "hello world")
	if b.ContentCID != a.ContentCID {
		t.Fatal("cid must depend on content only")
	}
	if b.ArtifactID == a.ArtifactID {
		t.Fatal("artifact ids must be unique")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		desc string
		want artifact.Role
	}{
		{"Analyze and process first component of: consensus", artifact.RoleAnalysis},
		{"ANALYZE the input", artifact.RoleAnalysis},
		{"Synthesize and validate second component of: consensus", artifact.RoleValidation},
		{"validate the output", artifact.RoleValidation},
		{"Build a distributed cache", artifact.RoleExecution},
	}
	for _, c := range cases {
		if got := artifact.Classify(c.desc); got != c.want {
			t.Errorf("Classify(%q) = %s, want %s", c.desc, got, c.want)
		}
	}
}

func TestExecutionContent(t *testing.T) {
	id := swarm.Identity("did:swarm:0123456789abcdef0123456789abcdef01234567")
	content := artifact.ExecutionContent(id, "Analyze and process first component of: consensus")
	if !strings.HasPrefix(content, "=== ANALYSIS RESULT ===") {
		t.Fatalf("missing role header:\n%s", content)
	}
	if !strings.HasSuffix(content, "Status: COMPLETE") {
		t.Fatalf("missing completion marker:\n%s", content)
	}
	// Only the identity tail appears, never the full DID.
	if strings.Contains(content, "did:swarm:0123456789abcdef") {
		t.Fatalf("agent id not truncated:\n%s", content)
	}
	if !strings.Contains(content, "Recommended algorithm") {
		t.Fatalf("analysis body missing:\n%s", content)
	}

	validation := artifact.ExecutionContent(id, "validate results")
	if !strings.Contains(validation, "Validation outcome: PASS") {
		t.Fatalf("validation body missing:\n%s", validation)
	}

	generic := artifact.ExecutionContent(id, "Build a cache")
	if !strings.Contains(generic, "Processed: Build a cache") {
		t.Fatalf("generic body missing:\n%s", generic)
	}
}

func TestExecutionContentClipsByRune(t *testing.T) {
	// A long multibyte description lands the byte-80 boundary inside a rune;
	// clipping must cut between characters.
	desc := "a" + strings.Repeat("界", 100)
	content := artifact.ExecutionContent("did:swarm:x", desc)
	if !utf8.ValidString(content) {
		t.Fatalf("clipped content is not valid UTF-8:\n%q", content)
	}
}

func TestSynthesisContent(t *testing.T) {
	results := []artifact.SubtaskResult{
		{TaskID: "subtask-aaaaaaaaaaaa-1111", Description: "first half", Content: "line one\nline two"},
		{TaskID: "subtask-bbbbbbbbbbbb-2222", Description: "second half", Content: "other result"},
	}
	content := artifact.SynthesisContent("did:swarm:coordinator-1", "Design a protocol", 2, results)

	if !strings.HasPrefix(content, "=== SYNTHESIS RESULT ===") {
		t.Fatalf("missing header:\n%s", content)
	}
	if !strings.Contains(content, "Cycle depth : 2") {
		t.Fatalf("depth missing:\n%s", content)
	}
	// Section markers carry the last 12 chars of each subtask id.
	if !strings.Contains(content, "── Subtask aaaaaaa-1111 ──") ||
		!strings.Contains(content, "── Subtask bbbbbbb-2222 ──") {
		t.Fatalf("subtask sections missing:\n%s", content)
	}
	// Findings are indented under their section.
	if !strings.Contains(content, "  line one\n  line two") {
		t.Fatalf("findings not indented:\n%s", content)
	}
	if !strings.Contains(content, "── FINAL ANSWER ──") {
		t.Fatalf("final answer missing:\n%s", content)
	}
	if !strings.Contains(content, "All 2 subtask results integrated") {
		t.Fatalf("footer missing:\n%s", content)
	}
}
