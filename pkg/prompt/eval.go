package prompt

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// Fixture is one prompt regression case: render a stored prompt with Data
// and check the output.
type Fixture struct {
	Name   string         `json:"name"`
	Prompt string         `json:"prompt"`
	Data   map[string]any `json:"data"`
	Expect Expectation    `json:"expect"`
}

type Expectation struct {
	Contains    []string `json:"contains,omitempty"`
	NotContains []string `json:"not_contains,omitempty"`
}

// Report summarizes an evaluation run.
type Report struct {
	Total    int
	Passed   int
	Failures []string
}

// Score is the pass ratio; an empty run scores 1.
func (r Report) Score() float64 {
	if r.Total == 0 {
		return 1
	}
	return float64(r.Passed) / float64(r.Total)
}

// LoadFixtures reads every *.json file in dir, in name order.
func LoadFixtures(fsys fs.FS, dir string) ([]Fixture, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []Fixture
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var fx Fixture
		if err := json.Unmarshal(b, &fx); err != nil {
			return nil, fmt.Errorf("prompt: fixture %s: %w", e.Name(), err)
		}
		if fx.Name == "" {
			fx.Name = strings.TrimSuffix(e.Name(), ".json")
		}
		out = append(out, fx)
	}
	return out, nil
}

// Evaluate renders each fixture against the latest version of its prompt.
func (s *Store) Evaluate(fixtures []Fixture) Report {
	r := Report{Total: len(fixtures)}
	for _, fx := range fixtures {
		out, err := s.Render(fx.Prompt, fx.Data)
		if err != nil {
			r.Failures = append(r.Failures, fx.Name+": render error: "+err.Error())
			continue
		}
		ok := true
		for _, want := range fx.Expect.Contains {
			if !strings.Contains(out, want) {
				ok = false
				r.Failures = append(r.Failures, fx.Name+": missing: "+want)
			}
		}
		for _, bad := range fx.Expect.NotContains {
			if strings.Contains(out, bad) {
				ok = false
				r.Failures = append(r.Failures, fx.Name+": unexpected: "+bad)
			}
		}
		if ok {
			r.Passed++
		}
	}
	return r
}
