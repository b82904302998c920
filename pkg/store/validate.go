package store

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/olimci/tenkai/pkg/manifest"
	"github.com/olimci/tenkai/pkg/version"
)

type ValidateResult struct {
	SourceDir   string
	ProjectName string
	Summary     manifest.Summary
	ImportTree  manifest.ImportTree
}

// Validate loads the manifest at source (the working directory when empty)
// and checks it without touching any target.
func (s Store) Validate(source string) (ValidateResult, error) {
	target := strings.TrimSpace(source)
	if target == "" {
		target = "."
	}

	m, sourceDir, tree, err := manifest.LoadWithTree(target)
	if err != nil {
		return ValidateResult{}, err
	}
	if err := version.EnsureCompatible(m.Tenkai.Version); err != nil {
		return ValidateResult{}, fmt.Errorf("unsupported manifest version %q: %w", m.Tenkai.Version, err)
	}

	summary, err := m.Validate()
	if err != nil {
		return ValidateResult{}, err
	}

	return ValidateResult{
		SourceDir:   sourceDir,
		ProjectName: projectDisplayName(m.Project.Name, sourceDir),
		Summary:     summary,
		ImportTree:  tree,
	}, nil
}

func projectDisplayName(name, dir string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return filepath.Base(dir)
}
