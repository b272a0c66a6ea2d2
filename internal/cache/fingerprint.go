package cache

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
)

const defaultDigestCacheSize = 4096

type fileKey struct {
	path    string
	size    int64
	modNano int64
}

// Fingerprinter hashes an execution's inputs. File digests are memoized by
// path, size and mtime, so unchanged dependency files are read once.
type Fingerprinter struct {
	digests *lru.Cache[fileKey, string]
}

// NewFingerprinter returns a Fingerprinter remembering up to size file
// digests; size <= 0 selects the default.
func NewFingerprinter(size int) (*Fingerprinter, error) {
	if size <= 0 {
		size = defaultDigestCacheSize
	}
	c, err := lru.New[fileKey, string](size)
	if err != nil {
		return nil, fmt.Errorf("digest cache: %w", err)
	}
	return &Fingerprinter{digests: c}, nil
}

// FileDigest returns the hex blake3 digest of the file's content.
func (f *Fingerprinter) FileDigest(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	key := fileKey{path: path, size: fi.Size(), modNano: fi.ModTime().UnixNano()}
	if d, ok := f.digests.Get(key); ok {
		return d, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	h := blake3.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	d := hex.EncodeToString(h.Sum(nil))
	f.digests.Add(key, d)
	return d, nil
}

// Fingerprint hashes the pipeline document, the artifact manifest and the
// content of every dependency file. Files are a set: order does not matter.
// A file that does not exist contributes a marker instead of a digest, so the
// worker gets to report it.
func (f *Fingerprinter) Fingerprint(document, manifest []byte, files []string) (string, error) {
	h := blake3.New()
	writeField(h, document)
	writeField(h, manifest)

	sorted := normalizePaths(files)
	writeCount(h, len(sorted))
	for _, p := range sorted {
		writeField(h, []byte(p))
		d, err := f.FileDigest(p)
		switch {
		case err == nil:
			writeField(h, []byte(d))
		case os.IsNotExist(err):
			writeField(h, []byte("absent"))
		default:
			return "", fmt.Errorf("fingerprint: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Key derives a ledger key from parts.
func Key(parts ...string) string {
	h := blake3.New()
	writeCount(h, len(parts))
	for _, p := range parts {
		writeField(h, []byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField writes data length-prefixed so adjacent fields cannot run into
// each other.
func writeField(h hash.Hash, data []byte) {
	writeCount(h, len(data))
	h.Write(data)
}

func writeCount(h hash.Hash, n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	h.Write(b[:])
}

