// Package documents manages the ingestion, pinning and removal of
// workspace documents, and assembles pinned content for prompts.
package documents

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DocumentFile is the parsed on-disk form of an ingested document: a JSON
// file holding extracted text plus descriptive metadata.
type DocumentFile struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	DocAuthor   string `json:"docAuthor"`
	Description string `json:"description"`
	DocSource   string `json:"docSource"`
	ChunkSource string `json:"chunkSource"`
	Published   string `json:"published"`
	WordCount   int    `json:"wordCount"`
	PageContent string `json:"pageContent"`
	TokenCount  int    `json:"token_count_estimate"`
}

// Loader reads document files from the documents root. Doc paths are
// relative to the root and must not escape it.
type Loader struct {
	root string
}

func NewLoader(root string) *Loader {
	return &Loader{root: root}
}

// Load reads and parses one document file by its doc path.
func (l *Loader) Load(docPath string) (*DocumentFile, error) {
	full := filepath.Join(l.root, filepath.Clean("/"+docPath))
	if !strings.HasPrefix(full, filepath.Clean(l.root)+string(os.PathSeparator)) {
		return nil, fmt.Errorf("doc path %q escapes documents root", docPath)
	}

	raw, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", docPath, err)
	}
	var doc DocumentFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing document %s: %w", docPath, err)
	}
	return &doc, nil
}

// Metadata returns the descriptive fields as a flat map for persistence
// alongside the document registration.
func (d *DocumentFile) Metadata() map[string]any {
	return map[string]any{
		"id":          d.ID,
		"title":       d.Title,
		"docAuthor":   d.DocAuthor,
		"description": d.Description,
		"docSource":   d.DocSource,
		"chunkSource": d.ChunkSource,
		"published":   d.Published,
		"wordCount":   d.WordCount,
	}
}
