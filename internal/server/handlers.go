package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/telemgate/internal/capture"
	"example.com/telemgate/internal/common"
	"example.com/telemgate/internal/dict"
	"example.com/telemgate/internal/report"
	"example.com/telemgate/internal/telem"
)

// Server coordinates HTTP handlers and manages temporary artifacts
// produced by decode requests.
type Server struct {
	artifacts   *ArtifactStore
	workDir     string
	uploadsDir  string
	dicts       map[string]dictEntry
	dictIDs     []string
	maxPacket   int
	concurrency int
}

type dictEntry struct {
	ref  DictionaryRef
	tree *dict.Tree
}

// Artifact kinds as they appear in API responses.
const (
	ArtifactKindCapture    = "capture"
	ArtifactKindDictionary = "dictionary"
	ArtifactKindSamples    = "samples"
	ArtifactKindCatalog    = "catalog"
)

// Artifact represents a file generated or stored by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
	Digest      string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Digest      string `json:"digest,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer constructs a Server rooted at a temporary workspace
// directory. Every configured dictionary is loaded and validated
// here; a malformed descriptor tree fails construction, never a
// request.
func NewServer(opts Options) (*Server, error) {
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "telemd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	refs := opts.Dictionaries
	if len(refs) == 0 && strings.TrimSpace(opts.DictionaryManifest) != "" {
		refs, err = LoadDictionaryManifest(opts.DictionaryManifest)
		if err != nil {
			os.RemoveAll(workDir)
			return nil, err
		}
	}
	if len(refs) == 0 {
		os.RemoveAll(workDir)
		return nil, errors.New("no dictionaries configured")
	}
	dicts := make(map[string]dictEntry, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id := strings.TrimSpace(ref.ID)
		if id == "" {
			os.RemoveAll(workDir)
			return nil, errors.New("dictionary entry missing id")
		}
		if _, exists := dicts[id]; exists {
			os.RemoveAll(workDir)
			return nil, fmt.Errorf("duplicate dictionary %s configured", id)
		}
		tree, err := dict.EnsureLoaded(ref.Path)
		if err != nil {
			os.RemoveAll(workDir)
			return nil, fmt.Errorf("dictionary %s: %w", id, err)
		}
		dicts[id] = dictEntry{ref: ref, tree: tree}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	maxPacket := opts.MaxPacketBytes
	if maxPacket <= 0 {
		maxPacket = telem.DefaultMaxPacketBytes
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	s := &Server{
		artifacts:   &ArtifactStore{entries: make(map[string]Artifact)},
		workDir:     workDir,
		uploadsDir:  uploadsDir,
		dicts:       dicts,
		dictIDs:     ids,
		maxPacket:   maxPacket,
		concurrency: concurrency,
	}
	return s, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind, digest string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	id := randomID()
	art := Artifact{
		ID:          id,
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
		Digest:      digest,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[id] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

func (s *Server) resolvePath(token string) (string, error) {
	if token == "" {
		return "", errors.New("empty input path")
	}
	if art, ok := s.getArtifact(token); ok {
		return art.Path, nil
	}
	abs := token
	if !filepath.IsAbs(token) {
		abs = filepath.Clean(token)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func (s *Server) dictionary(id string) (dictEntry, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		if len(s.dictIDs) == 1 {
			return s.dicts[s.dictIDs[0]], nil
		}
		return dictEntry{}, errors.New("dictionary required")
	}
	entry, ok := s.dicts[trimmed]
	if !ok {
		return dictEntry{}, fmt.Errorf("unknown dictionary %s", trimmed)
	}
	return entry, nil
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stream := r.URL.Query().Get("stream") == "true"
	var req struct {
		Input      string `json:"input"`
		Dictionary string `json:"dictionary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input required", http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	entry, err := s.dictionary(req.Dictionary)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := capture.ReadFile(inputPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("read capture: %v", err), http.StatusBadRequest)
		return
	}

	metrics := common.NewMetrics()
	metrics.Start()
	samples := telem.TransformParallel(entry.tree, rows, s.maxPacket, s.concurrency, metrics)
	samples, catalog := telem.Summarize(samples)
	metrics.Stop()
	snap := metrics.Snapshot()

	doc := report.CatalogDocument{
		Dictionary: entry.ref.ID,
		Digest:     entry.tree.Digest(),
		Rows:       snap.Rows,
		Samples:    snap.Samples,
		Messages:   catalog,
	}

	if stream {
		writer := NewNDJSONWriter(w)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, sample := range samples {
			if err := writer.WriteSample(sample); err != nil {
				return
			}
		}
		arts, err := s.saveDecodeArtifacts(samples, doc)
		if err != nil {
			_ = writer.WriteObject(map[string]any{"type": "error", "error": err.Error()})
			return
		}
		summary := struct {
			Type      string                     `json:"type"`
			Catalog   []telem.UniqueMessageEntry `json:"catalog"`
			Rows      int64                      `json:"rows"`
			Skipped   int64                      `json:"skippedRows"`
			Samples   int64                      `json:"samples"`
			Artifacts []ArtifactRef              `json:"artifacts"`
		}{
			Type:      "catalog",
			Catalog:   catalog,
			Rows:      snap.Rows,
			Skipped:   snap.SkippedRows,
			Samples:   snap.Samples,
			Artifacts: arts,
		}
		_ = writer.WriteObject(summary)
		return
	}

	arts, err := s.saveDecodeArtifacts(samples, doc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Rows      int64                      `json:"rows"`
		Skipped   int64                      `json:"skippedRows"`
		Samples   int64                      `json:"samples"`
		Catalog   []telem.UniqueMessageEntry `json:"catalog"`
		Artifacts []ArtifactRef              `json:"artifacts"`
	}{
		Rows:      snap.Rows,
		Skipped:   snap.SkippedRows,
		Samples:   snap.Samples,
		Catalog:   catalog,
		Artifacts: arts,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) saveDecodeArtifacts(samples []telem.ParsedSample, doc report.CatalogDocument) ([]ArtifactRef, error) {
	samplesPath, err := s.tempPath("samples-*.ndjson")
	if err != nil {
		return nil, fmt.Errorf("samples temp: %w", err)
	}
	if err := report.WriteSamplesNDJSON(samplesPath, samples); err != nil {
		return nil, fmt.Errorf("write samples: %w", err)
	}
	catalogPath, err := s.tempPath("catalog-*.json")
	if err != nil {
		return nil, fmt.Errorf("catalog temp: %w", err)
	}
	if err := report.SaveCatalogJSON(doc, catalogPath); err != nil {
		return nil, fmt.Errorf("write catalog: %w", err)
	}
	pdfPath, err := s.tempPath("catalog-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("catalog pdf temp: %w", err)
	}
	if err := report.SaveCatalogPDF(doc, pdfPath); err != nil {
		return nil, fmt.Errorf("write catalog pdf: %w", err)
	}
	samplesArt, err := s.addArtifact(samplesPath, "samples.ndjson", "application/x-ndjson", ArtifactKindSamples, "")
	if err != nil {
		return nil, fmt.Errorf("register samples: %w", err)
	}
	catalogArt, err := s.addArtifact(catalogPath, "catalog.json", "application/json", ArtifactKindCatalog, "")
	if err != nil {
		return nil, fmt.Errorf("register catalog: %w", err)
	}
	pdfArt, err := s.addArtifact(pdfPath, "catalog.pdf", "application/pdf", ArtifactKindCatalog, "")
	if err != nil {
		return nil, fmt.Errorf("register catalog pdf: %w", err)
	}
	return []ArtifactRef{toRef(samplesArt), toRef(catalogArt), toRef(pdfArt)}, nil
}

func (s *Server) handleDictionaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type dictInfo struct {
		ID       string            `json:"id"`
		Name     string            `json:"name,omitempty"`
		Digest   string            `json:"digest,omitempty"`
		Families []dict.FamilyStat `json:"families"`
	}
	out := make([]dictInfo, 0, len(s.dictIDs))
	for _, id := range s.dictIDs {
		entry := s.dicts[id]
		out = append(out, dictInfo{
			ID:       id,
			Name:     entry.ref.Name,
			Digest:   entry.tree.Digest(),
			Families: entry.tree.Stats(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	disposition := fmt.Sprintf("attachment; filename=\"%s\"", art.Name)
	w.Header().Set("Content-Disposition", disposition)
	io.Copy(w, f)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
		Digest:      art.Digest,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".ndjson":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".cbor", ".zst":
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

func randomID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		now := time.Now().UTC()
		return fmt.Sprintf("%d%06d", now.UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b[:])
}
