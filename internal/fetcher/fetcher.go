// Package fetcher reads identifier lists from local files or URLs in plain
// text, CSV and XLSX formats.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Downloader fetches a remote resource.
type Downloader interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Format is an identifier list file format.
type Format string

const (
	FormatText Format = "txt"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatOf picks the format from a path or URL extension. Unknown extensions
// are read as plain text.
func FormatOf(src string) Format {
	p := src
	if u, err := url.Parse(src); err == nil && isRemote(src) {
		p = path.Base(u.Path)
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	default:
		return FormatText
	}
}

func isRemote(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
