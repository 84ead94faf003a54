// This file loads the launcher's YAML job configuration and derives one
// resolved JobConfig per sweep entry.

package core

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"jarvice.io/slurm-launcher/admission"
)

// Defaults for keys the config may leave out.
const (
	DefaultRoot           = "/scratch/ssd001/home/$USER"
	DefaultVenvRoot       = "/h/$USER/venv"
	DefaultCheckpointRoot = "/checkpoint/$USER"

	JobNameKey = "job_name"
	sweepKey   = "sweep"

	maxInterpolationDepth = 8
)

// Directive is one #SBATCH option. Key keeps the config spelling
// (underscores); the renderer turns it into a long option.
type Directive struct {
	Key   string
	Value string
}

// JobConfig is the fully resolved configuration of one job.
type JobConfig struct {
	Name           string
	Directives     []Directive
	Overrides      []string
	Limits         admission.Limits
	PollDelay      time.Duration
	Wait           bool
	NextDay        *int
	Root           string
	Venv           string
	VenvRoot       string
	CheckpointRoot string
	Command        string
}

// Layout returns where the job's files live.
func (j *JobConfig) Layout() Layout {
	return Layout{Root: j.Root, NextDay: j.NextDay}
}

// Directive returns the value of the directive with the given config key.
func (j *JobConfig) Directive(key string) (string, bool) {
	for _, d := range j.Directives {
		if d.Key == key {
			return d.Value, true
		}
	}
	return "", false
}

// fileConfig mirrors the YAML document after overrides and interpolation.
type fileConfig struct {
	Root           string    `yaml:"root"`
	NextDay        *int      `yaml:"next_day"`
	MaxRunning     *int      `yaml:"max_running"`
	MaxPending     *int      `yaml:"max_pending"`
	PollDelay      string    `yaml:"poll_delay"`
	Wait           bool      `yaml:"wait"`
	Venv           string    `yaml:"venv"`
	VenvRoot       string    `yaml:"venv_root"`
	CheckpointRoot string    `yaml:"checkpoint_root"`
	Command        string    `yaml:"command"`
	Slurm          yaml.Node `yaml:"slurm"`
}

// Config is a parsed configuration file. Jobs are derived from it on demand;
// the document itself is never modified.
type Config struct {
	Path string
	root *yaml.Node
}

// ParseConfig decodes a YAML configuration document.
func ParseConfig(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("config: document is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config: top level must be a mapping, line %d", root.Line)
	}
	return &Config{root: root}, nil
}

// LoadConfig reads and parses the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// Sweep returns the override sets listed under "sweep".
func (c *Config) Sweep() ([][]string, error) {
	node := lookupNode(c.root, []string{sweepKey})
	if node == nil || isNull(node) {
		return nil, nil
	}
	var sweep [][]string
	if err := node.Decode(&sweep); err != nil {
		return nil, fmt.Errorf("config: sweep: %w", err)
	}
	return sweep, nil
}

// Jobs resolves every sweep entry with extra applied first, so entry
// overrides win. Without a sweep a single job is built from extra alone.
func (c *Config) Jobs(extra []string) ([]*JobConfig, error) {
	sweep, err := c.Sweep()
	if err != nil {
		return nil, err
	}
	if len(sweep) == 0 {
		sweep = [][]string{nil}
	}
	jobs := make([]*JobConfig, 0, len(sweep))
	for i, entry := range sweep {
		overrides := append(append([]string{}, extra...), entry...)
		job, err := c.Job(overrides)
		if err != nil {
			return nil, fmt.Errorf("config: job #%d: %w", i, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Job resolves the configuration for one set of overrides.
func (c *Config) Job(overrides []string) (*JobConfig, error) {
	root := cloneNode(c.root)
	for _, o := range overrides {
		if err := applyOverride(root, o); err != nil {
			return nil, err
		}
	}
	if err := interpolate(root, root); err != nil {
		return nil, err
	}
	fc := fileConfig{
		Root:           DefaultRoot,
		VenvRoot:       DefaultVenvRoot,
		CheckpointRoot: DefaultCheckpointRoot,
	}
	if err := root.Decode(&fc); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	job := &JobConfig{
		Overrides:      append([]string{}, overrides...),
		Limits:         admission.NoLimits(),
		Wait:           fc.Wait,
		NextDay:        fc.NextDay,
		Root:           fc.Root,
		Venv:           fc.Venv,
		VenvRoot:       fc.VenvRoot,
		CheckpointRoot: fc.CheckpointRoot,
		Command:        strings.TrimSpace(fc.Command),
	}
	if fc.MaxRunning != nil {
		job.Limits.MaxRunning = *fc.MaxRunning
	}
	if fc.MaxPending != nil {
		job.Limits.MaxPending = *fc.MaxPending
	}
	delay, err := parseDelay(fc.PollDelay)
	if err != nil {
		return nil, err
	}
	job.PollDelay = delay
	if job.Directives, err = directives(&fc.Slurm); err != nil {
		return nil, err
	}
	name, ok := job.Directive(JobNameKey)
	if !ok {
		return nil, errors.New("config: slurm.job_name is required")
	}
	job.Name = name
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks the invariants the renderer and the admission loop rely on.
func (j *JobConfig) Validate() error {
	if j.Name == "" {
		return errors.New("config: job name resolves to an empty string")
	}
	if strings.ContainsAny(j.Name, "/\x00") || j.Name == "." || j.Name == ".." {
		return fmt.Errorf("config: job name %q is not a valid file name", j.Name)
	}
	if err := j.Limits.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if j.NextDay != nil && (*j.NextDay < 0 || *j.NextDay > 23) {
		return fmt.Errorf("config: next_day must be an hour 0-23, got %d", *j.NextDay)
	}
	if j.Command == "" {
		return errors.New("config: command is required")
	}
	if strings.TrimSpace(j.Root) == "" {
		return errors.New("config: root is required")
	}
	return nil
}

// parseDelay accepts Go durations ("10s", "1m") or bare seconds.
func parseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return admission.DefaultPollDelay, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: poll_delay: %w", err)
	}
	return d, nil
}

func directives(slurm *yaml.Node) ([]Directive, error) {
	slurm = resolveAlias(slurm)
	if slurm.Kind == 0 || isNull(slurm) {
		return nil, nil
	}
	if slurm.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config: slurm must be a mapping, line %d", slurm.Line)
	}
	var out []Directive
	for i := 0; i+1 < len(slurm.Content); i += 2 {
		key, val := slurm.Content[i].Value, slurm.Content[i+1]
		parts, err := nameParts(val)
		if err != nil {
			return nil, fmt.Errorf("config: slurm.%s: %w", key, err)
		}
		if parts == nil {
			continue
		}
		resolved, err := ResolveName(parts)
		if err != nil {
			return nil, fmt.Errorf("config: slurm.%s: %w", key, err)
		}
		out = append(out, Directive{Key: key, Value: resolved})
	}
	return out, nil
}

// nameParts flattens a directive value. Null values and null list items
// are dropped; nil means the directive is absent.
func nameParts(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if isNull(n) {
			return nil, nil
		}
		return []string{n.Value}, nil
	case yaml.SequenceNode:
		parts := []string{}
		for _, item := range n.Content {
			if isNull(item) {
				continue
			}
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("nested collections are not allowed, line %d", item.Line)
			}
			parts = append(parts, item.Value)
		}
		return parts, nil
	case yaml.AliasNode:
		return nameParts(n.Alias)
	}
	return nil, fmt.Errorf("expected a scalar or a list, line %d", n.Line)
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

// applyOverride sets dotted.key=value on the mapping tree. Intermediate
// mappings are created as needed and new keys are appended.
func applyOverride(root *yaml.Node, override string) error {
	key, raw, ok := strings.Cut(override, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("config: override %q is not key=value", override)
	}
	val, err := overrideValue(raw)
	if err != nil {
		return fmt.Errorf("config: override %q: %w", override, err)
	}
	path := strings.Split(key, ".")
	node := root
	for i, seg := range path {
		if seg == "" {
			return fmt.Errorf("config: override %q has an empty key segment", override)
		}
		node = resolveAlias(node)
		if node.Kind != yaml.MappingNode {
			return fmt.Errorf("config: override %q: %s is not a mapping",
				override, strings.Join(path[:i], "."))
		}
		idx := mappingIndex(node, seg)
		if i == len(path)-1 {
			if idx < 0 {
				node.Content = append(node.Content, scalarNode("!!str", seg), val)
			} else {
				node.Content[idx+1] = val
			}
			return nil
		}
		if idx < 0 {
			child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			node.Content = append(node.Content, scalarNode("!!str", seg), child)
			node = child
			continue
		}
		node = node.Content[idx+1]
	}
	return nil
}

func overrideValue(raw string) (*yaml.Node, error) {
	if strings.TrimSpace(raw) == "" {
		return scalarNode("!!str", ""), nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return scalarNode("!!str", raw), nil
	}
	v := doc.Content[0]
	if v.Kind == yaml.MappingNode && v.Style&yaml.FlowStyle == 0 {
		// "a: b" style values are literal strings, not block mappings
		return scalarNode("!!str", raw), nil
	}
	return v, nil
}

func scalarNode(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

func mappingIndex(m *yaml.Node, key string) int {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i
		}
	}
	return -1
}

func lookupNode(root *yaml.Node, path []string) *yaml.Node {
	node := root
	for _, seg := range path {
		for node.Kind == yaml.AliasNode {
			node = node.Alias
		}
		switch node.Kind {
		case yaml.MappingNode:
			idx := mappingIndex(node, seg)
			if idx < 0 {
				return nil
			}
			node = node.Content[idx+1]
		case yaml.SequenceNode:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node.Content) {
				return nil
			}
			node = node.Content[i]
		default:
			return nil
		}
	}
	return node
}

var refPattern = regexp.MustCompile(`\$\{([^{}]+)\}`)

// envRefPattern matches references left for environment expansion.
var envRefPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// interpolate replaces ${dotted.key} references in every string scalar of n
// with the referenced scalar of root.
func interpolate(root, n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag != "!!str" || !strings.Contains(n.Value, "${") {
			return nil
		}
		if m := refPattern.FindStringSubmatch(n.Value); m != nil && m[0] == n.Value {
			// a lone reference takes over the referenced value's type
			if ref := lookupNode(root, strings.Split(m[1], ".")); ref != nil && ref.Kind == yaml.ScalarNode {
				v, err := expandRefs(root, ref.Value, 1)
				if err != nil {
					return err
				}
				n.Value, n.Tag = v, ref.Tag
				return nil
			}
		}
		v, err := expandRefs(root, n.Value, 0)
		if err != nil {
			return err
		}
		n.Value = v
	case yaml.MappingNode, yaml.SequenceNode, yaml.DocumentNode:
		for _, child := range n.Content {
			if err := interpolate(root, child); err != nil {
				return err
			}
		}
	}
	return nil
}

func expandRefs(root *yaml.Node, s string, depth int) (string, error) {
	if depth > maxInterpolationDepth {
		return "", fmt.Errorf("config: interpolation of %q is too deep (cycle?)", s)
	}
	var firstErr error
	out := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		key := strings.TrimSpace(ref[2 : len(ref)-1])
		node := lookupNode(root, strings.Split(key, "."))
		if node == nil {
			if envRefPattern.MatchString(key) {
				return ref
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("config: unknown reference ${%s}", key)
			}
			return ref
		}
		if node.Kind != yaml.ScalarNode || isNull(node) {
			if firstErr == nil {
				firstErr = fmt.Errorf("config: reference ${%s} is not a scalar", key)
			}
			return ref
		}
		v, err := expandRefs(root, node.Value, depth+1)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

// cloneNode deep-copies n. Aliases in the copy point at the copied anchors.
func cloneNode(n *yaml.Node) *yaml.Node {
	clones := make(map[*yaml.Node]*yaml.Node)
	c := copyNode(n, clones)
	for _, node := range clones {
		if node.Kind == yaml.AliasNode {
			if anchor, ok := clones[node.Alias]; ok {
				node.Alias = anchor
			}
		}
	}
	return c
}

func copyNode(n *yaml.Node, clones map[*yaml.Node]*yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	c := *n
	if len(n.Content) > 0 {
		c.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			c.Content[i] = copyNode(child, clones)
		}
	}
	clones[n] = &c
	return &c
}
