package memory

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Skill is one entry under the skills/ directory surfaced in the
// planner prompt's skills section.
type Skill struct {
	Name    string
	Path    string
	Summary string
}

// ListSkills reads every *.md file directly under dir and returns them
// sorted by name, using the first non-empty line as the summary.
func ListSkills(dir string) ([]Skill, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var skills []Skill
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		skills = append(skills, Skill{
			Name:    strings.TrimSuffix(entry.Name(), ".md"),
			Path:    path,
			Summary: firstNonEmptyLine(string(raw)),
		})
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills, nil
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
