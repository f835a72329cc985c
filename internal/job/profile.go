package job

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ContactInfo holds the fields automation bots fill into application forms.
type ContactInfo struct {
	FullName     string `yaml:"full_name" validate:"required"`
	Email        string `yaml:"email" validate:"required,email"`
	Phone        string `yaml:"phone"`
	Location     string `yaml:"location"`
	LinkedInURL  string `yaml:"linkedin_url" validate:"omitempty,url"`
	GitHubURL    string `yaml:"github_url" validate:"omitempty,url"`
	PortfolioURL string `yaml:"portfolio_url" validate:"omitempty,url"`
}

// Resume is a resume document, typically markdown.
type Resume struct {
	Content string `yaml:"content"`
	// File points to a document on disk. When set it takes precedence
	// over Content and is read at profile load time.
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// Profile is the applicant: contact info, base resume and search
// preferences. Loaded once per run and read-only to the pipeline.
type Profile struct {
	Contact     ContactInfo `yaml:"contact" validate:"required"`
	BaseResume  Resume      `yaml:"resume"`
	Preferences Query       `yaml:"preferences"`
}

var validate = validator.New()

// LoadProfile reads and validates a profile from a YAML file. A resume file
// reference is resolved relative to the profile's directory.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parsing profile %q: %w", path, err)
	}

	if file := strings.TrimSpace(profile.BaseResume.File); file != "" {
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading resume file: %w", err)
		}
		profile.BaseResume.Content = string(content)
	}

	if profile.BaseResume.Format == "" {
		profile.BaseResume.Format = "markdown"
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}

	return &profile, nil
}

// Validate checks the loaded profile is usable for a run.
func (p *Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("profile is invalid: %w", err)
	}
	if strings.TrimSpace(p.BaseResume.Content) == "" {
		return fmt.Errorf("profile has no base resume content")
	}
	return nil
}
