package report

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"example.com/telemgate/internal/telem"
)

func testDoc() CatalogDocument {
	return CatalogDocument{
		Dictionary: "fleet",
		Digest:     strings.Repeat("ab12", 16),
		Rows:       4,
		Samples:    7,
		Messages: []telem.UniqueMessageEntry{
			{Identity: "rover/0x1F07", Sender: "rover", FieldLabels: []string{"battery_v", "rpm"}},
			{Identity: "dock/520", Sender: "dock", FieldLabels: []string{"latch"}},
		},
	}
}

func TestCatalogJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	doc := testDoc()
	if err := SaveCatalogJSON(doc, path); err != nil {
		t.Fatalf("SaveCatalogJSON: %v", err)
	}
	got, err := LoadCatalogJSON(path)
	if err != nil {
		t.Fatalf("LoadCatalogJSON: %v", err)
	}
	if !reflect.DeepEqual(got, doc) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, doc)
	}
}

func TestSamplesNDJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.ndjson")
	samples := []telem.ParsedSample{
		{Identity: "rover/0x1F07/battery_v", Label: "battery_v", Unit: "V", TimestampMs: 1000, Value: 12.345},
		{Identity: "dock/520/latch", Label: "latch", IsEnum: true, TimestampMs: 1500, Value: 1},
	}
	if err := WriteSamplesNDJSON(path, samples); err != nil {
		t.Fatalf("WriteSamplesNDJSON: %v", err)
	}
	got, err := ReadSamplesNDJSON(path)
	if err != nil {
		t.Fatalf("ReadSamplesNDJSON: %v", err)
	}
	if !reflect.DeepEqual(got, samples) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, samples)
	}
}

func TestSaveCatalogPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.pdf")
	if err := SaveCatalogPDF(testDoc(), path); err != nil {
		t.Fatalf("SaveCatalogPDF: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("output does not look like a PDF")
	}
}

func TestSaveCatalogPDFWithoutDigest(t *testing.T) {
	doc := testDoc()
	doc.Digest = ""
	path := filepath.Join(t.TempDir(), "catalog.pdf")
	if err := SaveCatalogPDF(doc, path); err != nil {
		t.Fatalf("SaveCatalogPDF without digest: %v", err)
	}
}

func TestDictionaryDigestQR(t *testing.T) {
	png, err := DictionaryDigestQR("ab12cd34", 64)
	if err != nil {
		t.Fatalf("DictionaryDigestQR: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("output does not look like a PNG")
	}
	if _, err := DictionaryDigestQR("   ", 64); err == nil {
		t.Fatalf("expected error for empty digest")
	}
	if _, err := DictionaryDigestQR("zz--!!", 64); err == nil {
		t.Fatalf("expected error for digest with no hex characters")
	}
}
