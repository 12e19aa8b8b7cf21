// Package config loads the host's machine configuration from an INI-style
// file with [section] headers, key: value options and [include path]
// directives.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config provides access to a parsed configuration file.
type Config struct {
	sections map[string]*Section
	order    []string
}

// New creates a new empty Config.
func New() *Config {
	return &Config{sections: make(map[string]*Section)}
}

// Load reads a configuration file. [include path] directives pull in other
// files relative to the including file.
func Load(path string) (*Config, error) {
	c := New()
	visited := make(map[string]bool)
	if err := c.parseFile(path, visited); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parseFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	if visited[abs] {
		return fmt.Errorf("config: recursive include: %s", path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	dir := filepath.Dir(abs)
	var current *Section

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if idx := commentIndex(line); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
			if line == "" {
				continue
			}
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(line[1 : len(line)-1])
			if incl, ok := strings.CutPrefix(name, "include "); ok {
				if err := c.parseFile(filepath.Join(dir, strings.TrimSpace(incl)), visited); err != nil {
					return err
				}
				current = nil
				continue
			}
			current = c.section(name)
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			key, value, found = strings.Cut(line, "=")
		}
		if !found {
			return fmt.Errorf("config: %s:%d: expected 'key: value', got %q", path, lineNum, line)
		}
		if current == nil {
			return fmt.Errorf("config: %s:%d: option before any section", path, lineNum)
		}
		current.options[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return scanner.Err()
}

// commentIndex locates the start of an inline comment. '#' and ';'
// open a comment only at the start of a line or after whitespace, so
// values like probe point lists may contain bare ';' separators.
func commentIndex(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] == '#' || line[i] == ';' {
			if i == 0 || line[i-1] == ' ' || line[i-1] == '\t' {
				return i
			}
		}
	}
	return -1
}

func (c *Config) section(name string) *Section {
	key := strings.ToLower(name)
	if s, ok := c.sections[key]; ok {
		return s
	}
	s := &Section{name: name, options: make(map[string]string)}
	c.sections[key] = s
	c.order = append(c.order, key)
	return s
}

// HasSection reports whether the named section exists.
func (c *Config) HasSection(name string) bool {
	_, ok := c.sections[strings.ToLower(name)]
	return ok
}

// Section returns the named section, or an error if absent.
func (c *Config) Section(name string) (*Section, error) {
	if s, ok := c.sections[strings.ToLower(name)]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("config: section [%s] not found", name)
}

// SectionNames returns all section names in file order.
func (c *Config) SectionNames() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Section provides typed access to one [section] of options.
type Section struct {
	name    string
	options map[string]string
}

// Name returns the section name.
func (s *Section) Name() string { return s.name }

// HasOption checks whether an option is present.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// Get returns a string option. The optional fallback is returned when the
// option is absent; with no fallback an absent option is an error.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		return v, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return "", fmt.Errorf("config: option '%s' not found in section [%s]", option, s.name)
}

// GetInt returns an integer option.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("config: option '%s' in [%s]: %q is not an integer", option, s.name, v)
		}
		return i, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return 0, fmt.Errorf("config: option '%s' not found in section [%s]", option, s.name)
}

// GetFloat returns a float option.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("config: option '%s' in [%s]: %q is not a number", option, s.name, v)
		}
		return f, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return 0, fmt.Errorf("config: option '%s' not found in section [%s]", option, s.name)
}

// GetBool returns a boolean option (true/false, yes/no, on/off, 1/0).
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0":
			return false, nil
		}
		return false, fmt.Errorf("config: option '%s' in [%s]: %q is not a boolean", option, s.name, v)
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return false, fmt.Errorf("config: option '%s' not found in section [%s]", option, s.name)
}

// GetFloatList returns a comma-separated list of floats.
func (s *Section) GetFloatList(option string, fallback ...[]float64) ([]float64, error) {
	v, ok := s.options[strings.ToLower(option)]
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return nil, fmt.Errorf("config: option '%s' not found in section [%s]", option, s.name)
	}
	parts := strings.Split(v, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("config: option '%s' in [%s]: %q is not a number list", option, s.name, v)
		}
		out = append(out, f)
	}
	return out, nil
}
