package extract

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// txGroupSchema validates the shape of one feed line before it is decoded.
// Shape problems are caught here, at the boundary, so the action layer can
// assume well-formed groups.
const txGroupSchema = `{
  "type": "object",
  "required": ["id", "lsn", "ops"],
  "properties": {
    "id": {"type": "integer"},
    "lsn": {"type": "integer", "minimum": 0},
    "ops": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["table", "kind"],
        "properties": {
          "table": {"type": "string", "minLength": 1},
          "kind": {"enum": ["insert", "update", "delete"]},
          "before": {"type": ["object", "null"]},
          "after": {"type": ["object", "null"]}
        }
      }
    }
  }
}`

// JSONLFeed reads transaction groups from a JSON-lines file, one group per
// line, validating each line against the group schema and enforcing strictly
// increasing LSNs.
type JSONLFeed struct {
	r       *bufio.Scanner
	closer  io.Closer
	schema  *gojsonschema.Schema
	line    int
	lastLSN int64
}

// NewJSONLFeed creates a feed over an arbitrary reader.
func NewJSONLFeed(r io.Reader) (*JSONLFeed, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(txGroupSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile tx group schema: %w", err)
	}
	scanner := bufio.NewScanner(r)
	// Groups with large record payloads can exceed the default 64K token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &JSONLFeed{r: scanner, schema: schema, lastLSN: -1}, nil
}

// OpenJSONLFeed opens a feed over a file. Close releases the file handle.
func OpenJSONLFeed(path string) (*JSONLFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feed %s: %w", path, err)
	}
	feed, err := NewJSONLFeed(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	feed.closer = f
	return feed, nil
}

// Next returns the next transaction group, or io.EOF at end of stream.
func (f *JSONLFeed) Next() (*Tx, error) {
	for f.r.Scan() {
		f.line++
		raw := strings.TrimSpace(f.r.Text())
		if raw == "" {
			continue
		}

		result, err := f.schema.Validate(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("feed line %d: invalid JSON: %w", f.line, err)
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, issue := range result.Errors() {
				msgs = append(msgs, issue.String())
			}
			return nil, fmt.Errorf("feed line %d: %s", f.line, strings.Join(msgs, "; "))
		}

		var tx Tx
		if err := json.Unmarshal([]byte(raw), &tx); err != nil {
			return nil, fmt.Errorf("feed line %d: %w", f.line, err)
		}
		if tx.LSN <= f.lastLSN {
			return nil, fmt.Errorf(
				"feed line %d: LSN %d is not greater than previous LSN %d; feed must be in commit order",
				f.line, tx.LSN, f.lastLSN)
		}
		f.lastLSN = tx.LSN
		return &tx, nil
	}
	if err := f.r.Err(); err != nil {
		return nil, fmt.Errorf("feed read failed: %w", err)
	}
	return nil, io.EOF
}

// Close closes the underlying file, if the feed owns one.
func (f *JSONLFeed) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// SliceFeed serves a fixed list of transaction groups. Used by tests and by
// callers that assemble groups in memory.
type SliceFeed struct {
	groups []*Tx
	next   int
}

// NewSliceFeed creates a feed over the given groups.
func NewSliceFeed(groups ...*Tx) *SliceFeed {
	return &SliceFeed{groups: groups}
}

// Next returns the next group, or io.EOF.
func (f *SliceFeed) Next() (*Tx, error) {
	if f.next >= len(f.groups) {
		return nil, io.EOF
	}
	tx := f.groups[f.next]
	f.next++
	return tx, nil
}
