package job

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()

	resumePath := filepath.Join(dir, "resume.md")
	if err := os.WriteFile(resumePath, []byte("# Jane Doe\nGo engineer"), 0o644); err != nil {
		t.Fatal(err)
	}

	profilePath := filepath.Join(dir, "profile.yaml")
	content := `
contact:
  full_name: Jane Doe
  email: jane@example.com
  linkedin_url: https://linkedin.com/in/jane
resume:
  file: resume.md
preferences:
  keywords: [go, backend]
  locations: [remote]
  min_compensation: 120000
`
	if err := os.WriteFile(profilePath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	profile, err := LoadProfile(profilePath)
	if err != nil {
		t.Fatalf("loading profile: %v", err)
	}

	if profile.Contact.FullName != "Jane Doe" {
		t.Fatalf("unexpected name: %s", profile.Contact.FullName)
	}
	if profile.BaseResume.Content == "" {
		t.Fatal("resume file content was not loaded")
	}
	if profile.BaseResume.Format != "markdown" {
		t.Fatalf("expected markdown default format, got %s", profile.BaseResume.Format)
	}
	if profile.Preferences.MinCompensation != 120000 {
		t.Fatalf("unexpected min compensation: %d", profile.Preferences.MinCompensation)
	}
}

func TestLoadProfileRejectsMissingEmail(t *testing.T) {
	dir := t.TempDir()
	profilePath := filepath.Join(dir, "profile.yaml")
	content := `
contact:
  full_name: Jane Doe
resume:
  content: some resume
`
	if err := os.WriteFile(profilePath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadProfile(profilePath); err == nil {
		t.Fatal("expected validation error for missing email")
	}
}

func TestLoadProfileRequiresResume(t *testing.T) {
	dir := t.TempDir()
	profilePath := filepath.Join(dir, "profile.yaml")
	content := `
contact:
  full_name: Jane Doe
  email: jane@example.com
`
	if err := os.WriteFile(profilePath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadProfile(profilePath); err == nil {
		t.Fatal("expected error for missing resume content")
	}
}
