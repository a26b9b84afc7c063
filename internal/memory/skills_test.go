package memory

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListSkillsReadsMarkdownSummaries(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "web_search.md"), []byte("# Web Search\nSearch the web via Tavily.\n"), 0o644); err != nil {
		t.Fatalf("write skill: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write non-skill: %v", err)
	}

	skills, err := ListSkills(dir)
	if err != nil {
		t.Fatalf("list skills: %v", err)
	}
	if len(skills) != 1 {
		t.Fatalf("expected 1 skill, got %d", len(skills))
	}
	if skills[0].Name != "web_search" {
		t.Fatalf("expected name web_search, got %s", skills[0].Name)
	}
	if skills[0].Summary != "Web Search" {
		t.Fatalf("expected first heading as summary, got %q", skills[0].Summary)
	}
}

func TestListSkillsMissingDirReturnsEmpty(t *testing.T) {
	t.Parallel()
	skills, err := ListSkills(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("expected no error for missing dir, got %v", err)
	}
	if len(skills) != 0 {
		t.Fatalf("expected no skills, got %d", len(skills))
	}
}
