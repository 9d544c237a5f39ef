// Package importer turns an uploaded ZIP archive into location rows.
//
// The archive must hold exactly one text file once directories and
// OS-generated metadata (macOS resource forks, Finder files) are ignored.
// Each line of that file is "name,lat,lng"; pipes and tabs are accepted as
// separators too, and an optional "Name,Latitude,Longitude" header is skipped.
package importer

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	ArchiveExtension = ".zip"
	ContentExtension = ".txt"

	metadataFolderPrefix = "__macosx/"
	hiddenFileMarker     = ".ds_store"
	resourceForkPrefix   = "._"
)

// ErrNotSingleTextEntry covers zero entries, several entries and a wrong
// extension alike.
var ErrNotSingleTextEntry = errors.New("ZIP must contain exactly one .txt file")

// ErrInvalidArchive is returned when the payload is not a readable ZIP archive.
var ErrInvalidArchive = errors.New("file is not a valid ZIP archive")

// ErrEntryTooLarge is returned when the text file inflates past the allowed size.
var ErrEntryTooLarge = errors.New("text file is too large")

// HasArchiveExtension reports whether a declared upload name ends in .zip.
func HasArchiveExtension(fileName string) bool {
	return strings.HasSuffix(strings.ToLower(fileName), ArchiveExtension)
}

// OpenArchive decodes a ZIP payload held in memory.
func OpenArchive(payload []byte) (*zip.Reader, error) {
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	return reader, nil
}

func isDirectory(file *zip.File) bool {
	return file.FileInfo().IsDir() || strings.HasSuffix(file.Name, "/")
}

func isMetadata(name string) bool {
	lowered := strings.ToLower(name)

	return strings.HasPrefix(lowered, metadataFolderPrefix) ||
		strings.HasSuffix(lowered, hiddenFileMarker) ||
		strings.HasPrefix(path.Base(lowered), resourceForkPrefix)
}

// ContentEntry picks the sole content file out of the archive entries.
func ContentEntry(files []*zip.File) (*zip.File, error) {
	var candidates []*zip.File
	for _, file := range files {
		if isDirectory(file) || isMetadata(file.Name) {
			continue
		}
		candidates = append(candidates, file)
	}

	if len(candidates) != 1 {
		return nil, ErrNotSingleTextEntry
	}

	if !strings.HasSuffix(strings.ToLower(candidates[0].Name), ContentExtension) {
		return nil, ErrNotSingleTextEntry
	}

	return candidates[0], nil
}

// ReadText returns the entry content decoded as UTF-8. A leading byte order
// mark is dropped and invalid sequences are replaced. At most limit bytes are
// inflated; the size recorded in the entry header is not trusted.
func ReadText(file *zip.File, limit int64) (string, error) {
	if limit <= 0 || file.UncompressedSize64 > uint64(limit) {
		return "", ErrEntryTooLarge
	}

	entry, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer entry.Close()

	raw, err := io.ReadAll(io.LimitReader(entry, limit+1))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if int64(len(raw)) > limit {
		return "", ErrEntryTooLarge
	}

	content, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	return string(content), nil
}
