package util

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveEntry is one member of a zip archive.
type ArchiveEntry struct {
	Name  string
	Size  int64
	IsDir bool
	index int
}

// Archive is an open zip file that can be extracted entry by entry, so a
// caller can checkpoint between entries.
type Archive struct {
	reader *zip.ReadCloser
}

func OpenArchive(srcZip string) (*Archive, error) {
	reader, err := zip.OpenReader(srcZip)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &Archive{reader: reader}, nil
}

func (a *Archive) Close() error {
	return a.reader.Close()
}

// Entries lists every member in archive order together with the total
// uncompressed size.
func (a *Archive) Entries() ([]ArchiveEntry, int64) {
	entries := make([]ArchiveEntry, 0, len(a.reader.File))
	var total int64
	for i, f := range a.reader.File {
		info := f.FileInfo()
		entry := ArchiveEntry{
			Name:  strings.TrimSuffix(f.Name, "/"),
			Size:  int64(f.UncompressedSize64),
			IsDir: info.IsDir(),
			index: i,
		}
		if !entry.IsDir {
			total += entry.Size
		}
		entries = append(entries, entry)
	}
	return entries, total
}

// SafeJoin joins an archive member name onto destDir and rejects names that
// would escape it.
func SafeJoin(destDir string, name string) (string, error) {
	cleanDest := filepath.Clean(destDir)
	fpath := filepath.Join(cleanDest, filepath.FromSlash(name))

	if fpath != cleanDest && !strings.HasPrefix(fpath, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path: %s", name)
	}
	return fpath, nil
}

// Extract writes one entry to target. Directory entries are created; file
// contents go through w so callers can meter progress.
func (a *Archive) Extract(entry ArchiveEntry, target string, w func(dst io.Writer) io.Writer) error {
	f := a.reader.File[entry.index]

	if entry.IsDir {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	outFile, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		outFile.Close()
		return err
	}

	var dst io.Writer = outFile
	if w != nil {
		dst = w(outFile)
	}
	_, err = io.Copy(dst, rc)

	rc.Close()
	if closeErr := outFile.Close(); err == nil {
		err = closeErr
	}
	return err
}
