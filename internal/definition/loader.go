// Package definition loads declarative rule documents from YAML or JSON
// files, validates them, and provides a fast-lookup registry with atomic
// pointer swap.
package definition

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/carepulse/carepulse/model"
)

// Loader scans directories for rule definition files, parses them, and
// computes SHA-256 checksums.
type Loader struct{}

// NewLoader creates a definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml, *.yml, and *.json files
// and parses each into a Rule.
func (l *Loader) LoadAll(directories []string) ([]model.Rule, error) {
	var rules []model.Rule

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" && ext != ".json" {
				return nil
			}

			rule, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			rules = append(rules, rule)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return rules, nil
}

// LoadFile loads a single rule document. Files ending in .json are decoded
// as JSON, everything else as YAML. The SHA-256 checksum and source path are
// recorded on the rule.
func (l *Loader) LoadFile(path string) (model.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Rule{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var rule model.Rule
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &rule); err != nil {
			return model.Rule{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &rule); err != nil {
			return model.Rule{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if rule.ID == "" {
		rule.ID = ruleIDFromPath(path)
	}
	rule.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	rule.SourceFile = path

	return rule, nil
}

// ruleIDFromPath derives a stable rule ID from the file name when the
// document does not declare one.
func ruleIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
