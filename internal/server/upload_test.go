package server

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"testing"
)

func postUpload(t *testing.T, url, fileName string, content []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	resp, err := http.Post(url+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	return resp
}

func uploadedRefs(t *testing.T, resp *http.Response) []ArtifactRef {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Files []ArtifactRef `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return out.Files
}

func TestHandleUploadClassifiesDictionary(t *testing.T) {
	_, ts, _ := newTestServer(t)
	files := uploadedRefs(t, postUpload(t, ts.URL, "fleet.json", []byte(testDictionary)))
	if len(files) != 1 {
		t.Fatalf("files = %+v, want one", files)
	}
	ref := files[0]
	if ref.Kind != ArtifactKindDictionary {
		t.Fatalf("kind = %q, want %q", ref.Kind, ArtifactKindDictionary)
	}
	if ref.ContentType != "application/json" {
		t.Fatalf("content type = %q", ref.ContentType)
	}
	if len(ref.Digest) != 64 {
		t.Fatalf("digest = %q, want 64 hex chars", ref.Digest)
	}
	if ref.Name != "fleet.json" {
		t.Fatalf("name = %q", ref.Name)
	}
}

func TestHandleUploadClassifiesCapture(t *testing.T) {
	_, ts, _ := newTestServer(t)
	pkt := buildFleetPacket(t, 1, 0x1F07, []byte{0x10, 0x27})
	line := fmt.Sprintf(`{"ts":1000,"payload":"%s","channel":"radio"}`+"\n", hex.EncodeToString(pkt))

	files := uploadedRefs(t, postUpload(t, ts.URL, "run.ndjson", []byte(line)))
	if len(files) != 1 {
		t.Fatalf("files = %+v, want one", files)
	}
	ref := files[0]
	if ref.Kind != ArtifactKindCapture {
		t.Fatalf("kind = %q, want %q", ref.Kind, ArtifactKindCapture)
	}
	if len(ref.Digest) != 64 {
		t.Fatalf("digest = %q, want 64 hex chars", ref.Digest)
	}

	// The uploaded artifact's ID doubles as a decode input.
	payload, _ := json.Marshal(map[string]string{"input": ref.ID, "dictionary": "fleet"})
	resp, err := http.Post(ts.URL+"/decode", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /decode: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("/decode status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Rows    int64 `json:"rows"`
		Samples int64 `json:"samples"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Rows != 1 || out.Samples != 1 {
		t.Fatalf("rows=%d samples=%d, want 1 each", out.Rows, out.Samples)
	}
}

func TestHandleUploadRejectsUnrecognized(t *testing.T) {
	_, ts, _ := newTestServer(t)
	cases := []struct {
		name     string
		fileName string
		content  []byte
	}{
		{"empty file", "empty.ndjson", nil},
		{"binary junk", "junk.bin", []byte{0x00, 0x01, 0x02, 0x03}},
		{"json of neither shape", "odd.json", []byte(`{"ts":"not a capture"}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postUpload(t, ts.URL, tc.fileName, tc.content)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}
