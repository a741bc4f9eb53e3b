// Package rules loads correlation rule packs and serves immutable snapshots
// to the engine. Rules are data: the closed variant set lives in models and
// is compiled here into matchers the hot path can evaluate allocation-free.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/utils"
)

// DefaultCorrelationWindow applies when the pack defines no time_window rule.
const DefaultCorrelationWindow = 300 * time.Second

// PackFile is the YAML root structure of a rule pack.
type PackFile struct {
	Rules []models.AlarmRule `yaml:"rules"`
}

// ResourceMatcher matches a resource by exact type and optional id regexp.
type ResourceMatcher struct {
	Type      string
	IDPattern *regexp.Regexp
}

// Matches reports whether the resource falls under the matcher.
func (m ResourceMatcher) Matches(ref models.ResourceRef) bool {
	if m.Type != ref.Type {
		return false
	}
	if m.IDPattern == nil {
		return true
	}
	return m.IDPattern.MatchString(ref.ID)
}

// Topology is a compiled topology rule.
type Topology struct {
	ID             string
	Parent         ResourceMatcher
	Child          ResourceMatcher
	DesignatesRoot bool
}

// FieldMatcher is a compiled pattern field matcher.
type FieldMatcher struct {
	Field  string
	Equals string
	Regex  *regexp.Regexp
}

func (m FieldMatcher) matches(value string) bool {
	if m.Regex != nil {
		return m.Regex.MatchString(value)
	}
	return m.Equals == value
}

// Pattern is a compiled pattern rule: all field matchers must hold.
type Pattern struct {
	ID       string
	Matchers []FieldMatcher
}

// Matches evaluates every field matcher against the supplied field view.
func (p Pattern) Matches(fields map[string]string) bool {
	for _, m := range p.Matchers {
		if !m.matches(fields[m.Field]) {
			return false
		}
	}
	return true
}

// Flapping is the compiled flapping policy for the cycle.
type Flapping struct {
	ID             string
	MaxOccurrences int
	Window         time.Duration
}

// Set is an immutable rule snapshot used for one evaluation cycle.
type Set struct {
	Topology []Topology
	Patterns []Pattern
	Flapping *Flapping

	// CorrelationWindow bounds how far apart two alarms may open and still
	// correlate; taken from the widest time_window rule in the pack.
	CorrelationWindow time.Duration
}

// Compile validates and compiles a rule list. Bad rule definitions are
// reported through the logger and skipped, never fatal.
func Compile(ruleList []models.AlarmRule, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	set := &Set{CorrelationWindow: DefaultCorrelationWindow}
	sawWindow := false

	for _, rule := range ruleList {
		if err := rule.Validate(); err != nil {
			logger.Warn("skipping invalid rule", slog.Any("error", utils.NewRuleEvaluationError("rules.Compile", "invalid rule", err)))
			continue
		}

		switch rule.Kind {
		case models.RuleKindTopology:
			parent, err := compileResourceMatch(rule.Topology.ParentMatch)
			if err == nil {
				var child ResourceMatcher
				child, err = compileResourceMatch(rule.Topology.ChildMatch)
				if err == nil {
					set.Topology = append(set.Topology, Topology{
						ID:             rule.ID,
						Parent:         parent,
						Child:          child,
						DesignatesRoot: rule.Topology.DesignatesRoot,
					})
				}
			}
			if err != nil {
				logger.Warn("skipping topology rule", slog.String("rule", rule.ID), slog.Any("error", err))
			}

		case models.RuleKindTimeWindow:
			window := time.Duration(rule.TimeWindow.WindowSeconds) * time.Second
			if !sawWindow || window > set.CorrelationWindow {
				set.CorrelationWindow = window
			}
			sawWindow = true

		case models.RuleKindPattern:
			pattern, err := compilePattern(rule)
			if err != nil {
				logger.Warn("skipping pattern rule", slog.String("rule", rule.ID), slog.Any("error", err))
				continue
			}
			set.Patterns = append(set.Patterns, pattern)

		case models.RuleKindFlapping:
			if set.Flapping != nil {
				logger.Warn("ignoring extra flapping rule", slog.String("rule", rule.ID))
				continue
			}
			set.Flapping = &Flapping{
				ID:             rule.ID,
				MaxOccurrences: rule.Flapping.MaxOccurrences,
				Window:         time.Duration(rule.Flapping.WindowSeconds) * time.Second,
			}
		}
	}
	return set
}

func compileResourceMatch(match models.ResourceMatch) (ResourceMatcher, error) {
	matcher := ResourceMatcher{Type: match.Type}
	if match.IDPattern != "" {
		re, err := regexp.Compile(match.IDPattern)
		if err != nil {
			return ResourceMatcher{}, utils.NewRuleEvaluationError("rules.Compile", fmt.Sprintf("bad id pattern %q", match.IDPattern), err)
		}
		matcher.IDPattern = re
	}
	return matcher, nil
}

func compilePattern(rule models.AlarmRule) (Pattern, error) {
	pattern := Pattern{ID: rule.ID}
	for _, fm := range rule.Pattern.FieldMatchers {
		compiled := FieldMatcher{Field: fm.Field, Equals: fm.Equals}
		if fm.Regex != "" {
			re, err := regexp.Compile(fm.Regex)
			if err != nil {
				return Pattern{}, utils.NewRuleEvaluationError("rules.Compile", fmt.Sprintf("bad regex for field %q", fm.Field), err)
			}
			compiled.Regex = re
		}
		pattern.Matchers = append(pattern.Matchers, compiled)
	}
	return pattern, nil
}

// Store owns the active rule snapshot and optionally watches the pack file
// for hot reloads between evaluation cycles.
type Store struct {
	logger *slog.Logger
	path   string

	mu       sync.RWMutex
	current  *Set
	onChange []func()
}

// NewStore loads the pack at path. An empty or missing path yields an empty
// rule set so the engine can run without correlation rules.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store := &Store{logger: logger, path: path, current: Compile(nil, logger)}
	if path == "" {
		return store, nil
	}
	if err := store.Reload(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("rule pack not found, starting with empty rule set", slog.String("path", path))
			return store, nil
		}
		return nil, err
	}
	return store, nil
}

// Snapshot returns the rule set for the current evaluation cycle.
func (s *Store) Snapshot() *Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// OnChange registers a callback invoked after every successful reload.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Reload re-reads and recompiles the pack, then swaps the snapshot.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read rule pack: %w", err)
	}
	var pack PackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return fmt.Errorf("parse rule pack: %w", err)
	}

	set := Compile(pack.Rules, s.logger)

	s.mu.Lock()
	s.current = set
	callbacks := append([]func(){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	s.logger.Info("rule pack loaded",
		slog.String("path", s.path),
		slog.Int("topology", len(set.Topology)),
		slog.Int("patterns", len(set.Patterns)),
		slog.Bool("flapping", set.Flapping != nil),
	)
	return nil
}

// Watch reloads the pack whenever the file changes, until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rule watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are caught.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch rule pack dir: %w", err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn("rule pack reload failed, keeping previous set", slog.Any("error", err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("rule watcher error", slog.Any("error", err))
		}
	}
}
