package fetcher

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// IdentifierColumn is the header name preferred when reading tabular input.
const IdentifierColumn = "isrc"

// ReadIdentifiers reads raw identifiers from a local file. Blank entries are
// skipped; duplicates and invalid values are kept for the orchestrator to
// report.
func ReadIdentifiers(ctx context.Context, path string) ([]string, error) {
	return ReadIdentifiersFrom(ctx, nil, path)
}

// ReadIdentifiersFrom is ReadIdentifiers with URL support. Remote sources are
// downloaded to a temporary file first.
func ReadIdentifiersFrom(ctx context.Context, dl Downloader, src string) ([]string, error) {
	format := FormatOf(src)

	path := src
	if isRemote(src) {
		if dl == nil {
			return nil, eris.Errorf("fetcher: no downloader for %s", src)
		}
		dir, err := os.MkdirTemp("", "trackscout-input-*")
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		path = filepath.Join(dir, "input."+string(format))
		if _, err := dl.DownloadToFile(ctx, src, path); err != nil {
			return nil, eris.Wrapf(err, "fetcher: download %s", src)
		}
	}

	var (
		ids []string
		err error
	)
	switch format {
	case FormatCSV:
		ids, err = readCSVIdentifiers(ctx, path)
	case FormatXLSX:
		ids, err = readXLSXIdentifiers(ctx, path)
	default:
		ids, err = readTextIdentifiers(path)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("fetcher: read identifiers",
		zap.String("source", src),
		zap.String("format", string(format)),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

func readTextIdentifiers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "fetcher: scan %s", path)
	}
	return ids, nil
}

func readCSVIdentifiers(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	rowCh, errCh := StreamCSV(ctx, f, CSVOptions{Comment: '#'})
	return collectColumn(rowCh, errCh)
}

func readXLSXIdentifiers(ctx context.Context, path string) ([]string, error) {
	rowCh, errCh := StreamXLSX(ctx, path, XLSXOptions{})
	return collectColumn(rowCh, errCh)
}

// collectColumn picks the isrc column when the first row names one, else the
// first column with the first row treated as data.
func collectColumn(rowCh <-chan []string, errCh <-chan error) ([]string, error) {
	var ids []string
	col := 0
	first := true
	for row := range rowCh {
		if first {
			first = false
			if idx := headerIndex(row); idx >= 0 {
				col = idx
				continue
			}
		}
		if col >= len(row) || row[col] == "" {
			continue
		}
		ids = append(ids, row[col])
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return ids, nil
}

func headerIndex(row []string) int {
	for i, cell := range row {
		if strings.EqualFold(cell, IdentifierColumn) {
			return i
		}
	}
	return -1
}
