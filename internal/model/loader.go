package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"
)

// LoadDir reads the desired state from a configuration directory:
//
//	rules.yaml           sync policies (optional)
//	teams/<name>.yaml    one team per file
//	repos/<org>/<name>.yaml  one repository per file
//
// File basenames are authoritative for the team/repo name and the repo
// org; a name declared inside the file must match. The returned state
// is validated.
func LoadDir(dir string) (*DesiredState, error) {
	state := &DesiredState{}

	rulesPath := filepath.Join(dir, "rules.yaml")
	if data, err := os.ReadFile(rulesPath); err == nil {
		if err := yaml.UnmarshalStrict(data, &state.Rules); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", rulesPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", rulesPath, err)
	}

	teamFiles, err := yamlFiles(filepath.Join(dir, "teams"))
	if err != nil {
		return nil, err
	}
	for _, path := range teamFiles {
		var team Team
		if err := loadYAML(path, &team); err != nil {
			return nil, err
		}
		name := baseName(path)
		if team.Name == "" {
			team.Name = name
		} else if team.Name != name {
			return nil, fmt.Errorf("%s declares team %q, expected %q", path, team.Name, name)
		}
		state.Teams = append(state.Teams, team)
	}

	orgDirs, err := subDirs(filepath.Join(dir, "repos"))
	if err != nil {
		return nil, err
	}
	for _, orgDir := range orgDirs {
		org := filepath.Base(orgDir)
		repoFiles, err := yamlFiles(orgDir)
		if err != nil {
			return nil, err
		}
		for _, path := range repoFiles {
			var repo Repo
			if err := loadYAML(path, &repo); err != nil {
				return nil, err
			}
			name := baseName(path)
			if repo.Name == "" {
				repo.Name = name
			} else if repo.Name != name {
				return nil, fmt.Errorf("%s declares repo %q, expected %q", path, repo.Name, name)
			}
			if repo.Org == "" {
				repo.Org = org
			} else if repo.Org != org {
				return nil, fmt.Errorf("%s declares org %q, expected %q", path, repo.Org, org)
			}
			state.Repos = append(state.Repos, repo)
		}
	}

	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("invalid desired state in %s: %w", dir, err)
	}
	return state, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	return files, nil
}

func subDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(dir, entry.Name()))
		}
	}
	return dirs, nil
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
}
