// Package catalog holds the static theme, pose, gender and aspect-ratio options offered to users.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/and161185/virtual-atelier/internal/model"
)

//go:embed catalog.yaml
var embedded []byte

// Theme is a setting for the generated photograph.
type Theme struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
}

// Pose is a body pose with its prompt fragment.
type Pose struct {
	ID     string `yaml:"id" json:"id"`
	Label  string `yaml:"label" json:"label"`
	Prompt string `yaml:"prompt" json:"-"`
}

// Option is a plain id/label pair.
type Option struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
}

// Catalog is the full set of selectable options.
type Catalog struct {
	Themes       []Theme             `yaml:"themes" json:"themes"`
	Genders      []Option            `yaml:"genders" json:"genders"`
	Poses        []Pose              `yaml:"poses" json:"poses"`
	AspectRatios []model.AspectRatio `yaml:"aspect_ratios" json:"aspectRatios"`
}

// Parse decodes and validates a catalog document.
func Parse(doc []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if len(c.Themes) == 0 || len(c.Poses) == 0 {
		return nil, errors.New("catalog: themes and poses must not be empty")
	}
	for _, r := range c.AspectRatios {
		if !r.Valid() {
			return nil, fmt.Errorf("catalog: unsupported aspect ratio %q", r)
		}
	}
	return &c, nil
}

// Default returns the embedded catalog. It panics only if the embedded document is broken.
func Default() *Catalog {
	c, err := Parse(embedded)
	if err != nil {
		panic(err)
	}
	return c
}

// ThemeLabel returns the label for id, or "" when id is unknown.
func (c *Catalog) ThemeLabel(id string) string {
	for _, t := range c.Themes {
		if t.ID == id {
			return t.Label
		}
	}
	return ""
}

// HasTheme reports whether id is a known theme.
func (c *Catalog) HasTheme(id string) bool { return c.ThemeLabel(id) != "" }

// PosePrompt returns the prompt fragment for id, or "" when id is unknown.
func (c *Catalog) PosePrompt(id string) string {
	for _, p := range c.Poses {
		if p.ID == id {
			return p.Prompt
		}
	}
	return ""
}

// DefaultPose returns the first pose.
func (c *Catalog) DefaultPose() Pose { return c.Poses[0] }

// DefaultTheme returns the first theme.
func (c *Catalog) DefaultTheme() Theme { return c.Themes[0] }
