package dataset

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/gjson"

	"github.com/guimove/seqpack/internal/model"
)

// lineIndex locates every sample inside a JSONL file.
type lineIndex struct {
	Offsets  []int64  `json:"offsets"`
	Sizes    []int    `json:"sizes"`
	Lengths  []int    `json:"lengths"`
	Features []string `json:"features"`
}

// JSONL is a file-backed Dataset where each non-blank line is a JSON object
// mapping feature names to integer arrays, for example
//
//	{"input_ids": [1, 2, 3], "attention_mask": [1, 1, 1]}
//
// Only the line index is held in memory; samples are read on demand.
type JSONL struct {
	path          string
	file          *os.File
	lengthFeature string
	cache         *IndexCache
	index         *lineIndex
}

// JSONLOption configures a JSONL dataset.
type JSONLOption func(*JSONL)

// WithLengthFeature sets the feature whose value count is the sample length.
func WithLengthFeature(name string) JSONLOption {
	return func(d *JSONL) {
		if name != "" {
			d.lengthFeature = name
		}
	}
}

// WithIndexCache reuses line indexes across runs.
func WithIndexCache(c *IndexCache) JSONLOption {
	return func(d *JSONL) { d.cache = c }
}

// OpenJSONL opens and indexes a JSONL dataset file.
func OpenJSONL(path string, opts ...JSONLOption) (*JSONL, error) {
	d := &JSONL{
		path:          path,
		lengthFeature: DefaultLengthFeature,
	}
	for _, opt := range opts {
		opt(d)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	d.file = f

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat dataset: %w", err)
	}

	key := indexKey(path, info, d.lengthFeature)
	if d.cache != nil {
		if idx, ok := d.cache.Load(key); ok {
			d.index = idx
			return d, nil
		}
	}

	idx, err := buildIndex(f, d.lengthFeature)
	if err != nil {
		f.Close()
		return nil, err
	}
	if len(idx.Offsets) == 0 {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNoSamples)
	}
	d.index = idx

	if d.cache != nil {
		// A cache miss on the next run is the only cost of a failed store.
		_ = d.cache.Store(key, idx)
	}
	return d, nil
}

func buildIndex(r io.Reader, lengthFeature string) (*lineIndex, error) {
	idx := &lineIndex{}
	seen := make(map[string]bool)
	br := bufio.NewReaderSize(r, 1<<20)

	var offset int64
	for lineNo := 1; ; lineNo++ {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			line := bytes.TrimRight(raw, "\r\n")
			if len(bytes.TrimSpace(line)) > 0 {
				if !gjson.ValidBytes(line) {
					return nil, fmt.Errorf("%w: line %d is not valid JSON", ErrMalformedRow, lineNo)
				}
				parsed := gjson.ParseBytes(line)
				if !parsed.IsObject() {
					return nil, fmt.Errorf("%w: line %d is not a JSON object", ErrMalformedRow, lineNo)
				}

				length := 0
				parsed.ForEach(func(key, value gjson.Result) bool {
					if !value.IsArray() {
						return true
					}
					name := key.String()
					if name == lengthFeature {
						length = len(value.Array())
					}
					if !seen[name] {
						seen[name] = true
						idx.Features = append(idx.Features, name)
					}
					return true
				})

				idx.Offsets = append(idx.Offsets, offset)
				idx.Sizes = append(idx.Sizes, len(line))
				idx.Lengths = append(idx.Lengths, length)
			}
			offset += int64(len(raw))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return idx, nil
			}
			return nil, fmt.Errorf("reading dataset: %w", err)
		}
	}
}

func (d *JSONL) Len() int { return len(d.index.Offsets) }

func (d *JSONL) Length(i int) int { return d.index.Lengths[i] }

func (d *JSONL) FeatureNames() []string { return d.index.Features }

// Get reads and decodes sample i. Non-array fields are ignored.
func (d *JSONL) Get(i int) (model.Features, error) {
	if i < 0 || i >= d.Len() {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}

	buf := make([]byte, d.index.Sizes[i])
	if _, err := d.file.ReadAt(buf, d.index.Offsets[i]); err != nil {
		return nil, fmt.Errorf("reading sample %d: %w", i, err)
	}

	features := make(model.Features)
	gjson.ParseBytes(buf).ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			return true
		}
		arr := value.Array()
		vals := make([]int64, len(arr))
		for j, v := range arr {
			vals[j] = v.Int()
		}
		features[key.String()] = vals
		return true
	})
	return features, nil
}

// Path returns the dataset file path.
func (d *JSONL) Path() string { return d.path }

// Close releases the underlying file.
func (d *JSONL) Close() error {
	return d.file.Close()
}
