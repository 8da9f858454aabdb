package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"example.com/telemgate/internal/capture"
	"example.com/telemgate/internal/common"
	"example.com/telemgate/internal/dict"
)

// Uploads are captures or dictionaries, both small next to the decode
// output they produce.
const maxUploadBytes = 256 << 20

var errUnrecognizedUpload = errors.New("upload is neither a valid dictionary nor a capture")

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	if r.MultipartForm == nil {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}
	var refs []ArtifactRef
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			ref, err := s.saveUploadedFile(fh)
			if err != nil {
				http.Error(w, fmt.Sprintf("upload %s: %v", fh.Filename, err), http.StatusBadRequest)
				return
			}
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	resp := struct {
		Files []ArtifactRef `json:"files"`
	}{Files: refs}
	writeJSON(w, http.StatusOK, resp)
}

// saveUploadedFile stores one multipart part and classifies it before
// it enters the artifact store. Anything that is neither a loadable
// dictionary nor a readable capture is rejected and removed.
func (s *Server) saveUploadedFile(fh *multipart.FileHeader) (ArtifactRef, error) {
	if fh == nil {
		return ArtifactRef{}, fmt.Errorf("nil file header")
	}
	src, err := fh.Open()
	if err != nil {
		return ArtifactRef{}, err
	}
	defer src.Close()
	ext := filepath.Ext(fh.Filename)
	pattern := "upload-*"
	if ext != "" {
		pattern = fmt.Sprintf("upload-*%s", ext)
	}
	dest, err := os.CreateTemp(s.uploadsDir, pattern)
	if err != nil {
		return ArtifactRef{}, err
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	dest.Close()

	kind, contentType, err := classifyUpload(dest.Name())
	if err != nil {
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	digest, _, err := common.Sha256OfFile(dest.Name())
	if err != nil {
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	art, err := s.addArtifact(dest.Name(), fh.Filename, contentType, kind, digest)
	if err != nil {
		return ArtifactRef{}, err
	}
	return toRef(art), nil
}

// classifyUpload decides what an uploaded file is. A dictionary must
// pass full structural validation; anything else must read as a
// non-empty capture in one of the supported encodings.
func classifyUpload(path string) (kind, contentType string, err error) {
	if _, dictErr := dict.EnsureLoaded(path); dictErr == nil {
		return ArtifactKindDictionary, "application/json", nil
	}
	rows, capErr := capture.ReadFile(path)
	if capErr != nil || len(rows) == 0 {
		return "", "", errUnrecognizedUpload
	}
	return ArtifactKindCapture, "application/octet-stream", nil
}
