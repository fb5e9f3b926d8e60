package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"mercator-hq/gatekeeper/pkg/policy/engine"
)

// Source supplies the rule set.
type Source interface {
	LoadRules(ctx context.Context) ([]engine.Rule, error)
}

// RuleFile is the on-disk layout of a rule file.
type RuleFile struct {
	Version int           `yaml:"version,omitempty"`
	Rules   []engine.Rule `yaml:"rules"`
}

// DefaultMaxFileSize bounds a single rule file.
const DefaultMaxFileSize = 1 << 20

// FileSource loads rules from YAML files on disk.
type FileSource struct {
	path        string
	maxFileSize int64
	logger      *slog.Logger
}

// NewFileSource creates a file-based rule source. The path may be a single
// file or a directory; directories are walked recursively and hidden
// entries are skipped.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:        path,
		maxFileSize: DefaultMaxFileSize,
		logger:      logger.With("component", "policy.source"),
	}
}

// Path returns the configured path.
func (s *FileSource) Path() string {
	return s.path
}

// LoadRules loads every rule from the configured path.
func (s *FileSource) LoadRules(ctx context.Context) ([]engine.Rule, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}

	var (
		rules []engine.Rule
		errs  []error
	)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fileRules, err := s.loadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, fileRules...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	s.logger.Info("loaded rules from source",
		"path", s.path,
		"file_count", len(files),
		"rule_count", len(rules),
	)
	return rules, nil
}

func (s *FileSource) files() ([]string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, &LoadError{FilePath: s.path, Message: "failed to access path", Cause: err}
	}
	if !info.IsDir() {
		return []string{s.path}, nil
	}

	var files []string
	err = filepath.WalkDir(s.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != s.path && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if isRuleFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, &LoadError{FilePath: s.path, Message: "failed to walk directory", Cause: err}
	}
	if len(files) == 0 {
		return nil, &LoadError{FilePath: s.path, Message: "directory is empty", Cause: ErrNoRules}
	}
	sort.Strings(files)
	return files, nil
}

func (s *FileSource) loadFile(path string) ([]engine.Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "failed to access file", Cause: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &LoadError{FilePath: path, Message: "not a regular file"}
	}
	if info.Size() > s.maxFileSize {
		return nil, &LoadError{
			FilePath: path,
			Message:  fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", info.Size(), s.maxFileSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "failed to read file", Cause: err}
	}
	if !utf8.Valid(data) {
		return nil, &LoadError{FilePath: path, Message: "file contains invalid UTF-8 encoding"}
	}

	rules, err := Parse(data)
	if err != nil {
		return nil, &LoadError{FilePath: path, Line: yamlLine(err), Message: "invalid rule file", Cause: err}
	}

	s.logger.Debug("loaded rule file",
		"path", path,
		"rule_count", len(rules),
	)
	return rules, nil
}

// Parse decodes a rule file. Unknown fields are rejected.
func Parse(data []byte) ([]engine.Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f RuleFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	if f.Version > 1 {
		return nil, fmt.Errorf("unsupported rule file version %d", f.Version)
	}
	return f.Rules, nil
}

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

func yamlLine(err error) int {
	m := yamlLineRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func isRuleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
