package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"
)

const (
	// file IO buffer size for each run reader and writer
	defaultIOBufferSize = 1 << 16 // 64k

	// maxRecordSize bounds a single framed record; larger lengths mean corruption.
	maxRecordSize = 1 << 30
)

// FileOptions configures a File store.
type FileOptions struct {
	Dir          string // parent directory, empty for GetTempDir(_, true)
	Prefix       string // prefix of the private run directory
	Compress     bool   // zstd compress run bodies
	Mmap         bool   // memory-map uncompressed runs for reading
	IOBufferSize int    // bufio size for each reader and writer
}

// File stores every run in its own file under a private directory.
// Each file carries a header with the record count and a checksum trailer,
// so truncated or damaged runs are detected while they are read.
type File struct {
	opts   FileOptions
	dir    string
	ids    ids
	mu     sync.Mutex
	paths  map[RunID]string
	closed bool
}

type fileWriter struct {
	store   *File
	id      RunID
	path    string
	f       *os.File
	bw      *bufio.Writer
	enc     *zstd.Encoder
	body    io.Writer
	digest  *xxhash.Digest
	scratch [binary.MaxVarintLen64]byte
	count   uint64
	done    bool
}

type fileReader struct {
	f       *os.File
	mm      mmap.MMap
	dec     *zstd.Decoder
	r       interface {
		io.Reader
		io.ByteReader
	}
	digest  *xxhash.Digest
	scratch [binary.MaxVarintLen64]byte
	want    uint64
	count   uint64
	read    uint64
}

// NewFile creates a File store with its own directory under opts.Dir.
func NewFile(opts FileOptions) (*File, error) {
	if opts.IOBufferSize <= 0 {
		opts.IOBufferSize = defaultIOBufferSize
	}
	if opts.Prefix == "" {
		opts.Prefix = fmt.Sprintf("extmerge_%d_", os.Getpid())
	}
	base := GetTempDir(opts.Dir, true)
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	dir, err := os.MkdirTemp(base, opts.Prefix)
	if err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	return &File{opts: opts, dir: dir, paths: make(map[RunID]string)}, nil
}

// Dir returns the private directory holding the run files.
func (s *File) Dir() string {
	return s.dir
}

// Path returns the file backing run id.
func (s *File) Path(id RunID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.paths[id]
	return p, ok
}

// Create starts a new run file.
func (s *File) Create(ctx context.Context) (Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	id := s.ids.next()
	s.mu.Unlock()

	path := filepath.Join(s.dir, "run-"+strconv.FormatUint(uint64(id), 10))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create run %d: %w", id, err)
	}
	w := &fileWriter{
		store:  s,
		id:     id,
		path:   path,
		f:      f,
		bw:     bufio.NewWriterSize(f, s.opts.IOBufferSize),
		digest: xxhash.New(),
	}
	// header is rewritten in place once the count is known
	var hdr [headerSize]byte
	if _, err := w.bw.Write(hdr[:]); err != nil {
		return nil, errors.Join(fmt.Errorf("write run %d header: %w", id, err), w.discard())
	}
	w.body = w.bw
	if s.opts.Compress {
		enc, err := zstd.NewWriter(w.bw, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("create zstd encoder: %w", err), w.discard())
		}
		w.enc = enc
		w.body = enc
	}
	return w, nil
}

// Open opens run id for sequential reading.
func (s *File) Open(ctx context.Context, id RunID) (Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	path, ok := s.paths[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run %d: %w", id, err)
	}
	r, err := s.newReader(f)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open run %d: %w", id, err), f.Close())
	}
	return r, nil
}

func (s *File) newReader(f *os.File) (*fileReader, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size < headerSize+trailerSize {
		return nil, ErrTruncated
	}

	var hb [headerSize]byte
	if _, err := f.ReadAt(hb[:], 0); err != nil {
		return nil, err
	}
	hdr, err := decodeRunHeader(hb[:])
	if err != nil {
		return nil, err
	}
	var tb [trailerSize]byte
	if _, err := f.ReadAt(tb[:], size-trailerSize); err != nil {
		return nil, err
	}

	r := &fileReader{
		f:      f,
		digest: xxhash.New(),
		want:   binary.LittleEndian.Uint64(tb[:]),
		count:  hdr.Count,
	}
	bodyLen := size - headerSize - trailerSize

	var body io.Reader
	if s.opts.Mmap && !hdr.compressed() && bodyLen > 0 {
		mm, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("mmap run: %w", err)
		}
		r.mm = mm
		r.r = bytes.NewReader(mm[headerSize : headerSize+bodyLen])
		return r, nil
	}

	fadviseSequential(f.Fd(), headerSize, bodyLen)
	body = io.NewSectionReader(f, headerSize, bodyLen)
	if hdr.compressed() {
		dec, err := zstd.NewReader(body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		r.dec = dec
		body = dec
	}
	r.r = bufio.NewReaderSize(body, s.opts.IOBufferSize)
	return r, nil
}

// Remove deletes the file of run id.
func (s *File) Remove(id RunID) error {
	s.mu.Lock()
	path, ok := s.paths[id]
	delete(s.paths, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return os.Remove(path)
}

// Close removes the store directory and every run in it.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.paths = nil
	return os.RemoveAll(s.dir)
}

func (s *File) commit(id RunID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.paths[id] = path
	return nil
}

func (w *fileWriter) Write(rec []byte) error {
	if w.done {
		return ErrClosed
	}
	n := binary.PutUvarint(w.scratch[:], uint64(len(rec)))
	if _, err := w.body.Write(w.scratch[:n]); err != nil {
		return fmt.Errorf("write run %d: %w", w.id, err)
	}
	if _, err := w.body.Write(rec); err != nil {
		return fmt.Errorf("write run %d: %w", w.id, err)
	}
	_, _ = w.digest.Write(w.scratch[:n])
	_, _ = w.digest.Write(rec)
	w.count++
	return nil
}

func (w *fileWriter) Close() (RunID, int, error) {
	if w.done {
		return NoRun, 0, ErrClosed
	}
	w.done = true
	if err := w.finish(); err != nil {
		return NoRun, 0, errors.Join(fmt.Errorf("close run %d: %w", w.id, err), w.discard())
	}
	return w.id, int(w.count), nil
}

func (w *fileWriter) finish() error {
	hdr := runHeader{Magic: runMagic, Version: runVersion, Count: w.count}
	if w.enc != nil {
		hdr.Flags |= flagZstd
		if err := w.enc.Close(); err != nil {
			return err
		}
	}
	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint64(trailer[:], w.digest.Sum64())
	if _, err := w.bw.Write(trailer[:]); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	var hb [headerSize]byte
	hdr.encodeTo(hb[:])
	if _, err := w.f.WriteAt(hb[:], 0); err != nil {
		return err
	}
	if err := w.f.Close(); err != nil {
		return err
	}
	w.f = nil
	if err := w.store.commit(w.id, w.path); err != nil {
		return err
	}
	// committed runs are owned by the store from here on
	w.path = ""
	return nil
}

func (w *fileWriter) Abort() error {
	w.done = true
	if w.enc != nil {
		_ = w.enc.Close()
		w.enc = nil
	}
	return w.discard()
}

// discard closes and removes the file of an uncommitted run.
func (w *fileWriter) discard() error {
	var err error
	if w.f != nil {
		err = w.f.Close()
		w.f = nil
	}
	if w.path == "" {
		return err
	}
	if rmErr := os.Remove(w.path); rmErr != nil && !os.IsNotExist(rmErr) {
		err = errors.Join(err, rmErr)
	}
	return err
}

func (r *fileReader) Next() ([]byte, error) {
	if r.r == nil {
		return nil, ErrClosed
	}
	if r.read >= r.count {
		return nil, io.EOF
	}
	n, err := binary.ReadUvarint(r.r)
	if err != nil {
		return nil, truncated(err)
	}
	if n > maxRecordSize {
		return nil, fmt.Errorf("%w: record of %d bytes", ErrCorrupt, n)
	}
	rec := make([]byte, n)
	if _, err := io.ReadFull(r.r, rec); err != nil {
		return nil, truncated(err)
	}
	k := binary.PutUvarint(r.scratch[:], n)
	_, _ = r.digest.Write(r.scratch[:k])
	_, _ = r.digest.Write(rec)
	r.read++
	if r.read == r.count && r.digest.Sum64() != r.want {
		return nil, ErrChecksum
	}
	return rec, nil
}

func (r *fileReader) Close() error {
	if r.f == nil {
		return nil
	}
	if r.dec != nil {
		r.dec.Close()
		r.dec = nil
	}
	var err error
	if r.mm != nil {
		err = r.mm.Unmap()
		r.mm = nil
	}
	fadviseDontNeed(r.f.Fd())
	err = errors.Join(err, r.f.Close())
	r.f = nil
	r.r = nil
	return err
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return err
}
