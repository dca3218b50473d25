// Package prompt keeps the versioned templates the orchestration core sends to
// models. Every save is linted, gets the next version number and is parsed
// once; Render always uses the latest version of a name.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
)

// Prompt represents a versioned prompt artifact.
type Prompt struct {
	Name    string
	Version int
	Body    string
	Meta    map[string]string

	tmpl *template.Template
}

// Issue describes a lint finding.
type Issue struct {
	Rule    string
	Message string
	Offset  int
}

var secretMarkers = []string{"aws_secret_access_key", "begin private key", "sk-"}

// Lint checks that a prompt is named, non-empty, free of secret-like content
// and a valid template.
func Lint(p Prompt) []Issue {
	var issues []Issue
	if p.Name == "" {
		issues = append(issues, Issue{Rule: "name.required", Message: "name is required"})
	}
	if strings.TrimSpace(p.Body) == "" {
		issues = append(issues, Issue{Rule: "body.required", Message: "body is empty"})
	}
	lower := strings.ToLower(p.Body)
	for _, m := range secretMarkers {
		if i := strings.Index(lower, m); i >= 0 {
			issues = append(issues, Issue{Rule: "security.secrets", Message: "body appears to contain secrets-like content", Offset: i})
			break
		}
	}
	if _, err := parse(p); err != nil {
		issues = append(issues, Issue{Rule: "template.syntax", Message: err.Error()})
	}
	return issues
}

func parse(p Prompt) (*template.Template, error) {
	return template.New(p.Name).Option("missingkey=error").Parse(p.Body)
}

// ErrLintFailed is returned by Save when Lint reports issues.
var ErrLintFailed = errors.New("prompt failed lint checks")

// ErrNotFound is returned by Render for an unknown prompt name.
var ErrNotFound = errors.New("prompt not found")

// Store is an in-memory versioned prompt store. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string][]Prompt // name -> versions (ascending)
}

func NewStore() *Store { return &Store{data: make(map[string][]Prompt)} }

// Save adds a new version. If name exists, version increments by 1; otherwise starts at 1.
// Lint failures return ErrLintFailed together with the issues.
func (s *Store) Save(p Prompt) (Prompt, []Issue, error) {
	issues := Lint(p)
	if len(issues) > 0 {
		return Prompt{}, issues, ErrLintFailed
	}
	tmpl, err := parse(p)
	if err != nil {
		return Prompt{}, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.data[p.Name]
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1].Version + 1
	}
	np := Prompt{Name: p.Name, Version: next, Body: p.Body, Meta: p.Meta, tmpl: tmpl}
	s.data[p.Name] = append(versions, np)
	return np, nil, nil
}

// Get retrieves specific version; if version==0 returns latest.
func (s *Store) Get(name string, version int) (Prompt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.data[name]
	if len(versions) == 0 {
		return Prompt{}, false
	}
	if version <= 0 {
		return versions[len(versions)-1], true
	}
	i := sort.Search(len(versions), func(i int) bool { return versions[i].Version >= version })
	if i < len(versions) && versions[i].Version == version {
		return versions[i], true
	}
	return Prompt{}, false
}

// List returns all versions for a name in ascending order.
func (s *Store) List(name string) []Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Prompt(nil), s.data[name]...)
}

// Names returns the stored prompt names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for n := range s.data {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Render executes the latest version of name with data.
func (s *Store) Render(name string, data any) (string, error) {
	p, ok := s.Get(name, 0)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	var sb strings.Builder
	if err := p.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt %s v%d: %w", name, p.Version, err)
	}
	return sb.String(), nil
}
