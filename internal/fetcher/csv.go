package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter rune // default ','
	Comment   rune // comment character (0 = none)
	// HasHeader sends the first row to HeaderCh instead of the row channel.
	HasHeader bool
	HeaderCh  chan<- []string
}

// StreamCSV parses r in a goroutine and sends trimmed rows to the returned
// channel. The error channel receives at most one error. Both channels are
// closed when parsing ends; the caller must drain the row channel.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.Comment = opts.Comment
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		for line := 0; ; line++ {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			for i := range record {
				record[i] = strings.TrimSpace(record[i])
			}

			var out chan<- []string = rowCh
			if line == 0 && opts.HasHeader {
				if opts.HeaderCh == nil {
					continue
				}
				out = opts.HeaderCh
			}
			select {
			case out <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
