package report

import (
	"bufio"
	"encoding/json"
	"os"

	"example.com/telemgate/internal/telem"
)

// CatalogDocument is the serialized form of one aggregation result.
type CatalogDocument struct {
	Dictionary string                     `json:"dictionary,omitempty"`
	Digest     string                     `json:"digest,omitempty"`
	Rows       int64                      `json:"rows,omitempty"`
	Samples    int64                      `json:"samples,omitempty"`
	Messages   []telem.UniqueMessageEntry `json:"messages"`
}

func SaveCatalogJSON(doc CatalogDocument, out string) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadCatalogJSON(path string) (CatalogDocument, error) {
	var doc CatalogDocument
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	err = json.Unmarshal(b, &doc)
	return doc, err
}

// WriteSamplesNDJSON streams samples to path, one JSON object per line.
func WriteSamplesNDJSON(path string, samples []telem.ParsedSample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()
	for _, s := range samples {
		b, err := json.Marshal(s)
		if err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		if _, err := w.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

// ReadSamplesNDJSON loads a samples file produced by WriteSamplesNDJSON.
func ReadSamplesNDJSON(path string) ([]telem.ParsedSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var samples []telem.ParsedSample
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s telem.ParsedSample
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}
