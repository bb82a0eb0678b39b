package index

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// File names inside the index directory.
const (
	DocstoreFile = "docstore.json"
	VectorsFile  = "vectors.bin"
)

const formatVersion = 1

// ErrCorruptIndex means the persisted files disagree with each other.
var ErrCorruptIndex = errors.New("corrupt vector index")

type docstore struct {
	Version   int                 `json:"version"`
	Dimension int                 `json:"dimension"`
	Entries   []scholarship.Chunk `json:"entries"`
}

// load reads the directory. A missing docstore is an empty index. The vector
// file may hold trailing rows from an interrupted save; the docstore count wins.
func load(dir string) ([]scholarship.Chunk, [][]float32, int, error) {
	raw, err := os.ReadFile(filepath.Join(dir, DocstoreFile)) // #nosec G304 -- configured index directory.
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, 0, nil
	}
	if err != nil {
		return nil, nil, 0, fmt.Errorf("read docstore: %w", err)
	}
	var doc docstore
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, 0, fmt.Errorf("%w: decode docstore: %w", ErrCorruptIndex, err)
	}
	if doc.Version != formatVersion {
		return nil, nil, 0, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, doc.Version)
	}
	if len(doc.Entries) == 0 {
		return nil, nil, doc.Dimension, nil
	}

	f, err := os.Open(filepath.Join(dir, VectorsFile)) // #nosec G304 -- configured index directory.
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: open vectors: %w", ErrCorruptIndex, err)
	}
	defer f.Close() //nolint:errcheck // read-only
	vectors, dim, err := readVectors(f, len(doc.Entries))
	if err != nil {
		return nil, nil, 0, err
	}
	if dim != doc.Dimension {
		return nil, nil, 0, fmt.Errorf("%w: dimension %d in vectors, %d in docstore", ErrCorruptIndex, dim, doc.Dimension)
	}
	return doc.Entries, vectors, dim, nil
}

// vectors.bin layout: uint32 dimension, uint32 rows, then rows×dimension
// float32 values, all little-endian.
func readVectors(r io.Reader, want int) ([][]float32, int, error) {
	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("%w: read header: %w", ErrCorruptIndex, err)
	}
	dim, rows := int(header[0]), int(header[1])
	if dim == 0 || rows < want {
		return nil, 0, fmt.Errorf("%w: %d vectors for %d entries", ErrCorruptIndex, rows, want)
	}
	vectors := make([][]float32, want)
	for i := range vectors {
		v := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, 0, fmt.Errorf("%w: read vector %d: %w", ErrCorruptIndex, i, err)
		}
		vectors[i] = v
	}
	return vectors, dim, nil
}

// save writes vectors first so a crash between the two renames leaves extra
// vector rows rather than entries without vectors.
func save(dir string, entries []scholarship.Chunk, vectors [][]float32, dim int) error {
	var buf bytes.Buffer
	header := [2]uint32{uint32(dim), uint32(len(vectors))} // #nosec G115 -- bounded by memory.
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("encode vectors: %w", err)
	}
	for _, v := range vectors {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("encode vectors: %w", err)
		}
	}
	if err := writeFileAtomic(filepath.Join(dir, VectorsFile), buf.Bytes()); err != nil {
		return err
	}
	doc, err := json.Marshal(docstore{Version: formatVersion, Dimension: dim, Entries: entries})
	if err != nil {
		return fmt.Errorf("encode docstore: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, DocstoreFile), doc)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
