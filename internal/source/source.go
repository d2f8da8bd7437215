// Package source finds the PDF documents a run compares.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Lllllllleong/renderparity/internal/models"
)

// Document is one input PDF.
type Document struct {
	Name   string // file name, e.g. "3f2a.pdf"
	Stem   string // file name without extension; names the output subtree
	Path   string
	SHA256 string
}

// NewDocument describes the PDF at path, hashing its content.
func NewDocument(path string) (Document, error) {
	hash, err := calculateFileHash(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	name := filepath.Base(path)
	return Document{
		Name:   name,
		Stem:   strings.TrimSuffix(name, filepath.Ext(name)),
		Path:   path,
		SHA256: hash,
	}, nil
}

// Discover returns every *.pdf directly inside dir, sorted by name.
// A missing folder or a folder without PDFs is a configuration error.
func Discover(dir string) ([]Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &models.ConfigurationError{Msg: "PDF folder not found: " + dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &models.ConfigurationError{Msg: dir + " is not a directory"}
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	if len(paths) == 0 {
		return nil, &models.ConfigurationError{Msg: "no PDF files found in " + dir}
	}

	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		doc, err := NewDocument(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ContentAddressedName is the name the download utility stores a PDF
// under: the sha256 of its content.
func ContentAddressedName(sha string) string {
	return sha + ".pdf"
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// HashFile returns the hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	return calculateFileHash(path)
}
