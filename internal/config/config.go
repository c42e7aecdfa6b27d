package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/esm-dev/assetpipe/internal/assets"
	"github.com/esm-dev/assetpipe/internal/jsonc"
	"github.com/esm-dev/assetpipe/internal/manifest"
	"github.com/goccy/go-json"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "assetpipe.json"

// Config represents the configuration of a pipeline. Relative paths are
// resolved against the directory of the config file.
type Config struct {
	Root              string          `json:"root"`
	WorkspaceRoot     string          `json:"workspaceRoot"`
	Allow             []string        `json:"allow"`
	Deny              []string        `json:"deny"`
	WorkspaceAllow    []string        `json:"workspaceAllow"`
	WorkspaceDeny     []string        `json:"workspaceDeny"`
	Scripts           []string        `json:"scripts"`
	OutDir            string          `json:"outDir"`
	FileNames         string          `json:"fileNames"`
	ManifestRaw       json.RawMessage `json:"manifest"`
	SourcemapRaw      json.RawMessage `json:"sourcemap"`
	SourcesContentRaw json.RawMessage `json:"sourcesContent"`
	SourceRoot        string          `json:"sourceRoot"`
	External          []string        `json:"external"`
	Files             []FileRule      `json:"files"`
	CodegenDir        string          `json:"codegenDir"`
	Base              string          `json:"base"`
	EmptyOutDir       bool            `json:"emptyOutDir"`
	Strict            bool            `json:"strict"`
	JSXImportSource   string          `json:"jsxImportSource"`
	Minify            bool            `json:"minify"`
	Concurrency       int             `json:"concurrency"`
	Port              uint16          `json:"port"`
	LogLevel          string          `json:"logLevel"`
	LogDir            string          `json:"logDir"`
	DevSourcemapRaw   json.RawMessage `json:"devSourcemap"`
	// Manifest is the manifest file name inside OutDir, empty when disabled.
	Manifest string `json:"-"`
	// Sourcemap is "", "inline" or "external".
	Sourcemap      string `json:"-"`
	SourcesContent bool   `json:"-"`
	DevSourcemap   bool   `json:"-"`
	// Dir is the directory relative paths are resolved against.
	Dir string `json:"-"`
}

// FileRule declares a file rule by the names of its transforms, see
// assets.Named.
type FileRule struct {
	Pattern        string            `json:"pattern"`
	Transform      string            `json:"transform"`
	Variants       map[string]string `json:"variants"`
	DefaultVariant string            `json:"defaultVariant"`
}

// Load loads the config from the given file.
func Load(filename string) (*Config, error) {
	var config Config
	if err := jsonc.ReadFile(filename, &config); err != nil {
		return nil, fmt.Errorf("fail to load config: %w", err)
	}
	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}
	config.Dir = filepath.Dir(abs)
	if err := normalizeConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return &config, nil
}

// LoadOrDefault loads the config file if it exists, otherwise it returns the
// default config for dir.
func LoadOrDefault(filename string, dir string) (*Config, error) {
	if filename == "" {
		filename = filepath.Join(dir, DefaultFile)
		if _, err := os.Stat(filename); err != nil && os.IsNotExist(err) {
			return Default(dir)
		}
	}
	return Load(filename)
}

// Default returns the config of a project without a config file.
func Default(dir string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	config := &Config{Dir: abs}
	if err := normalizeConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func normalizeConfig(config *Config) error {
	if config.Dir == "" {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		config.Dir = dir
	}
	config.Root = config.abs(config.Root, ".")
	if config.WorkspaceRoot != "" {
		config.WorkspaceRoot = config.abs(config.WorkspaceRoot, "")
	}
	config.OutDir = config.abs(config.OutDir, "dist")
	if config.CodegenDir != "" {
		config.CodegenDir = config.abs(config.CodegenDir, "")
	}
	if config.LogDir != "" {
		config.LogDir = config.abs(config.LogDir, "")
	}
	if config.FileNames == "" {
		config.FileNames = manifest.DefaultFileNames
	}
	if config.Base == "" {
		config.Base = "/"
	}
	if config.Port == 0 {
		config.Port = 3000
		if v := os.Getenv("ASSETPIPE_PORT"); v != "" {
			if p, e := strconv.Atoi(v); e == nil && p > 0 && p < 65536 {
				config.Port = uint16(p)
			}
		}
	}
	if config.LogLevel == "" {
		config.LogLevel = os.Getenv("LOG_LEVEL")
		if config.LogLevel == "" {
			config.LogLevel = "info"
		}
	}

	switch raw := bytes.TrimSpace(config.ManifestRaw); {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("true")):
		config.Manifest = "manifest.json"
	case bytes.Equal(raw, []byte("false")):
		config.Manifest = ""
	default:
		if err := json.Unmarshal(raw, &config.Manifest); err != nil || config.Manifest == "" {
			return errors.New("manifest must be a file name or false")
		}
	}

	mode, err := parseSourcemap(config.SourcemapRaw)
	if err != nil {
		return err
	}
	if v := os.Getenv("SOURCEMAP"); v != "" {
		if mode, err = parseSourcemap([]byte(strconv.Quote(v))); err != nil {
			return fmt.Errorf("SOURCEMAP: %w", err)
		}
	}
	config.Sourcemap = mode
	config.SourcesContent = !bytes.Equal(bytes.TrimSpace(config.SourcesContentRaw), []byte("false"))
	config.DevSourcemap = !bytes.Equal(bytes.TrimSpace(config.DevSourcemapRaw), []byte("false"))

	for i, rule := range config.Files {
		if rule.Pattern == "" {
			return fmt.Errorf("files[%d]: pattern is required", i)
		}
	}
	return nil
}

func parseSourcemap(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "null", "false", `"false"`, `""`:
		return "", nil
	case "true", `"true"`, `"external"`:
		return "external", nil
	case `"inline"`:
		return "inline", nil
	}
	return "", fmt.Errorf("invalid sourcemap %s: expected false, \"inline\" or \"external\"", raw)
}

func (config *Config) abs(p string, fallback string) string {
	if p == "" {
		p = fallback
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(config.Dir, filepath.FromSlash(p))
	}
	return filepath.Clean(p)
}

// Rules compiles the file rules, resolving transform names.
func (config *Config) Rules() (*assets.Rules, error) {
	rules := make([]assets.Rule, 0, len(config.Files))
	for i, fr := range config.Files {
		rule := assets.Rule{Pattern: fr.Pattern, DefaultVariant: fr.DefaultVariant}
		if fr.Transform != "" {
			fn, err := assets.Named(fr.Transform)
			if err != nil {
				return nil, fmt.Errorf("files[%d]: %w", i, err)
			}
			rule.Transform = fn
		}
		if len(fr.Variants) > 0 {
			names := make([]string, 0, len(fr.Variants))
			for name := range fr.Variants {
				names = append(names, name)
			}
			sort.Strings(names)
			rule.Variants = make(map[string]assets.Func, len(names))
			for _, name := range names {
				if name == "" || strings.ContainsAny(name, "/?&#") {
					return nil, fmt.Errorf("files[%d]: invalid variant name %q", i, name)
				}
				fn, err := assets.Named(fr.Variants[name])
				if err != nil {
					return nil, fmt.Errorf("files[%d].variants.%s: %w", i, name, err)
				}
				rule.Variants[name] = fn
			}
		}
		rules = append(rules, rule)
	}
	return assets.NewRules(rules)
}
