package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DictionaryRef names one descriptor tree available to decode
// requests.
type DictionaryRef struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Path string `json:"path" yaml:"path"`
}

// Options configures server creation.
type Options struct {
	StorageDir         string
	DictionaryManifest string
	Dictionaries       []DictionaryRef
	MaxPacketBytes     int
	Concurrency        int
}

// LoadDictionaryManifest parses a manifest JSON document that
// enumerates the available dictionaries. Relative paths are resolved
// against the manifest's directory.
func LoadDictionaryManifest(path string) ([]DictionaryRef, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("manifest path is empty")
	}
	manifestPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("manifest path: %w", err)
	}
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	var doc struct {
		Dictionaries []DictionaryRef `json:"dictionaries"`
	}
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(doc.Dictionaries) == 0 {
		return nil, errors.New("manifest contains no dictionaries")
	}
	base := filepath.Dir(manifestPath)
	out := make([]DictionaryRef, len(doc.Dictionaries))
	for i, ref := range doc.Dictionaries {
		resolved, err := resolveDictionaryPaths(base, ref)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

func resolveDictionaryPaths(base string, ref DictionaryRef) (DictionaryRef, error) {
	ref.ID = strings.TrimSpace(ref.ID)
	ref.Name = strings.TrimSpace(ref.Name)
	ref.Path = strings.TrimSpace(ref.Path)
	if ref.ID == "" {
		return DictionaryRef{}, errors.New("manifest dictionary entry missing id")
	}
	if ref.Path == "" {
		return DictionaryRef{}, fmt.Errorf("manifest dictionary %s missing path", ref.ID)
	}
	if !filepath.IsAbs(ref.Path) {
		ref.Path = filepath.Join(base, ref.Path)
	}
	return ref, nil
}
