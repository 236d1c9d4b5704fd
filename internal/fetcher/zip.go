package fetcher

import (
	"archive/zip"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ZIPEntries lists the regular files of a ZIP archive whose names end with one
// of the given extensions (case-insensitive), sorted by name. An empty
// extension list matches every file.
func ZIPEntries(zipPath string, exts ...string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var names []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !hasExt(f.Name, exts) {
			continue
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names, nil
}

// OpenZIPEntry opens a single entry of a ZIP archive for streaming. Closing the
// returned reader also closes the archive.
func OpenZIPEntry(zipPath, name string) (io.ReadCloser, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			_ = r.Close()
			return nil, eris.Wrapf(err, "zip: open entry %q", name)
		}
		return &zipEntryReader{ReadCloser: rc, archive: r}, nil
	}
	_ = r.Close()
	return nil, eris.Errorf("zip: file %q not found in archive", name)
}

type zipEntryReader struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (z *zipEntryReader) Close() error {
	err := z.ReadCloser.Close()
	if cerr := z.archive.Close(); err == nil {
		err = cerr
	}
	return err
}

func hasExt(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
