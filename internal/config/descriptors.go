package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harun/ragent/pkg/backend"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// descriptorExts are tried in order when a descriptor is looked up by name.
var descriptorExts = []string{".yaml", ".yml", ".toml", ".json"}

// providerKeyEnv is consulted when a descriptor sets neither api_key nor api_key_env.
var providerKeyEnv = map[string][]string{
	backend.KindOpenAI:    {"OPENAI_API_KEY"},
	backend.KindAnthropic: {"ANTHROPIC_API_KEY"},
	backend.KindGemini:    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openrouter":          {"OPENROUTER_API_KEY"},
}

// DescriptorStore finds and reads backend descriptors.
type DescriptorStore struct {
	dir    string
	getenv func(string) string
}

// NewDescriptorStore returns a store reading from dir.
func NewDescriptorStore(dir string) *DescriptorStore {
	return &DescriptorStore{dir: dir, getenv: os.Getenv}
}

// Dir returns the descriptor directory.
func (s *DescriptorStore) Dir() string {
	return s.dir
}

// SanitizeName maps a descriptor name to its file stem.
func SanitizeName(name string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(strings.TrimSpace(name))
}

// Path resolves ref to a descriptor file. An existing file path wins over a
// name lookup.
func (s *DescriptorStore) Path(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("%w: no backend config given", backend.ErrConfigInvalid)
	}
	if info, err := os.Stat(ref); err == nil && info.Mode().IsRegular() {
		return ref, nil
	}

	stem := SanitizeName(ref)
	for _, ext := range descriptorExts {
		candidate := filepath.Join(s.dir, stem+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: config %q not found (looked for %s.{yaml,yml,toml,json} in %s)",
		backend.ErrConfigInvalid, ref, stem, s.dir)
}

// Load reads the descriptor ref and fills its API key. The result is not
// validated; the resolver does that.
func (s *DescriptorStore) Load(ref string) (backend.Descriptor, error) {
	path, err := s.Path(ref)
	if err != nil {
		return backend.Descriptor{}, err
	}
	return s.LoadFile(path)
}

// LoadFile reads a descriptor from path in any format viper understands.
func (s *DescriptorStore) LoadFile(path string) (backend.Descriptor, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return backend.Descriptor{}, fmt.Errorf("%w: failed to read %s: %w", backend.ErrConfigInvalid, path, err)
	}
	// Older descriptors spell the endpoint "url".
	if !v.InConfig("endpoint") {
		v.RegisterAlias("url", "endpoint")
	}

	var desc backend.Descriptor
	if err := v.Unmarshal(&desc); err != nil {
		return backend.Descriptor{}, fmt.Errorf("%w: failed to decode %s: %w", backend.ErrConfigInvalid, path, err)
	}
	if desc.Name == "" {
		desc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	desc.APIKey = s.apiKey(desc)
	return desc, nil
}

// apiKey picks api_key, then the api_key_env variable, then the provider default.
func (s *DescriptorStore) apiKey(desc backend.Descriptor) string {
	if desc.APIKey != "" {
		return desc.APIKey
	}
	if desc.APIKeyEnv != "" {
		return s.getenv(desc.APIKeyEnv)
	}

	raw := strings.ToLower(strings.TrimSpace(desc.Kind))
	norm := desc.Normalize()
	names := providerKeyEnv[raw]
	if names == nil {
		names = providerKeyEnv[norm.Kind]
	}
	if norm.Kind == backend.KindCompat && strings.Contains(norm.Endpoint, "openrouter.ai") {
		names = providerKeyEnv["openrouter"]
	}
	for _, name := range names {
		if key := s.getenv(name); key != "" {
			return key
		}
	}
	return ""
}

// DescriptorFile is a descriptor found on disk.
type DescriptorFile struct {
	Path       string
	Descriptor backend.Descriptor
	Err        error
}

// List reads every descriptor in the directory. Unreadable files are
// reported through Err rather than skipped.
func (s *DescriptorStore) List() ([]DescriptorFile, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}

	var files []DescriptorFile
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !hasDescriptorExt(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		desc, err := s.LoadFile(path)
		files = append(files, DescriptorFile{Path: path, Descriptor: desc, Err: err})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func hasDescriptorExt(name string) bool {
	ext := filepath.Ext(name)
	for _, known := range descriptorExts {
		if ext == known {
			return true
		}
	}
	return false
}

// DefaultDescriptors are written by init.
func DefaultDescriptors() []backend.Descriptor {
	return []backend.Descriptor{
		{
			Name:     "lmstudio_qwen3-8b",
			Kind:     "lmstudio",
			Model:    "qwen/qwen3-8b",
			Endpoint: "http://localhost:1234/v1",
			Stream:   true,
		},
		{
			Name:          "lmstudio_qwen3-vl-8b",
			Kind:          "lmstudio",
			Model:         "qwen/qwen3-vl-8b",
			Endpoint:      "http://localhost:1234/v1",
			SupportsImage: true,
			Stream:        true,
		},
		{
			Name:      "openrouter_qwen3-coder",
			Kind:      "openrouter",
			Model:     "qwen/qwen3-coder",
			Endpoint:  "https://openrouter.ai/api/v1",
			APIKeyEnv: "OPENROUTER_API_KEY",
			Stream:    true,
		},
		{
			Name:          "openai_gpt-4o-mini",
			Kind:          backend.KindOpenAI,
			Model:         "gpt-4o-mini",
			APIKeyEnv:     "OPENAI_API_KEY",
			SupportsImage: true,
			Stream:        true,
		},
		{
			Name:          "anthropic_claude-sonnet-4",
			Kind:          backend.KindAnthropic,
			Model:         "claude-sonnet-4-20250514",
			APIKeyEnv:     "ANTHROPIC_API_KEY",
			SupportsImage: true,
			Stream:        true,
			MaxTokens:     4096,
		},
	}
}

// WriteDescriptor writes desc as <dir>/<sanitized name>.yaml. It returns
// false without touching the file when one already exists.
func (s *DescriptorStore) WriteDescriptor(desc backend.Descriptor) (bool, error) {
	if strings.TrimSpace(desc.Name) == "" {
		return false, fmt.Errorf("descriptor name is required")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(s.dir, SanitizeName(desc.Name)+".yaml")
	data, err := yaml.Marshal(desc)
	if err != nil {
		return false, fmt.Errorf("failed to encode descriptor %s: %w", desc.Name, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

// WriteDefaults writes every default descriptor that does not exist yet and
// returns the names it created.
func (s *DescriptorStore) WriteDefaults() ([]string, error) {
	var created []string
	for _, desc := range DefaultDescriptors() {
		ok, err := s.WriteDescriptor(desc)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, desc.Name)
		}
	}
	return created, nil
}
