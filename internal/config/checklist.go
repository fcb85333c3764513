package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChecklistItem is one line of the landing page checklist.
type ChecklistItem struct {
	Label string `yaml:"label"`
}

// ChecklistFile is the parsed YAML structure for the landing checklist:
// title, description, button, items: [{label}]
type ChecklistFile struct {
	Title       string          `yaml:"title"`
	Description string          `yaml:"description"`
	Button      string          `yaml:"button"`
	Items       []ChecklistItem `yaml:"items"`
}

// DefaultChecklist is the landing content used when no file is configured.
func DefaultChecklist() ChecklistFile {
	return ChecklistFile{
		Title:       "Safety Companion V3",
		Description: "Foundation Phase - Health Check",
		Button:      "Foundation Ready",
		Items: []ChecklistItem{
			{Label: "Next.js 15 (App Router)"},
			{Label: "TypeScript Strict Mode"},
			{Label: "Tailwind CSS"},
			{Label: "Stone/Slate Theme"},
			{Label: "shadcn/ui Components"},
			{Label: "Geist Sans Typography"},
		},
	}
}

// LoadChecklistFile parses a YAML checklist file from the given path.
// Returns the default checklist if path is empty. Missing headings fall back to the defaults.
func LoadChecklistFile(path string) (ChecklistFile, error) {
	defaults := DefaultChecklist()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ChecklistFile{}, fmt.Errorf("read checklist file: %w", err)
	}

	return parseChecklist(data, defaults)
}

func parseChecklist(data []byte, defaults ChecklistFile) (ChecklistFile, error) {
	var cf ChecklistFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return ChecklistFile{}, fmt.Errorf("parse checklist file: %w", err)
	}

	if err := validateChecklist(cf.Items); err != nil {
		return ChecklistFile{}, err
	}

	if strings.TrimSpace(cf.Title) == "" {
		cf.Title = defaults.Title
	}
	if strings.TrimSpace(cf.Description) == "" {
		cf.Description = defaults.Description
	}
	if strings.TrimSpace(cf.Button) == "" {
		cf.Button = defaults.Button
	}

	return cf, nil
}

// validateChecklist ensures all items are usable.
func validateChecklist(items []ChecklistItem) error {
	if len(items) == 0 {
		return fmt.Errorf("checklist file contains no items")
	}

	seen := make(map[string]bool)
	for i, item := range items {
		label := strings.TrimSpace(item.Label)
		if label == "" {
			return fmt.Errorf("item %d: label is required", i)
		}
		if seen[label] {
			return fmt.Errorf("item %q: duplicate label", label)
		}
		seen[label] = true
	}

	return nil
}
