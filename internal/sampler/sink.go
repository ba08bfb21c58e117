package sampler

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/san-kum/solvmd/internal/dynamo"
)

// Policy controls how a sink reacts to failed writes.
type Policy struct {
	Retries    int           // extra attempts after the first failure
	Backoff    time.Duration // wait before the first retry, doubled each time
	BestEffort bool          // drop a record that still fails instead of stopping the run
}

type file interface {
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Close() error
}

// Sink writes whole records to a file. A record either lands completely or the
// file is cut back to the end of the previous record, so readers never see a
// torn snapshot. Paths ending in .zst store each record as an independent
// zstd frame.
type Sink struct {
	path   string
	f      file
	off    int64
	enc    *zstd.Encoder
	policy Policy
	logger *log.Logger

	Records int
	Skipped int
}

// OpenSink creates path, or continues it after its last byte when appending.
func OpenSink(path string, appending bool, policy Policy, logger *log.Logger) (*Sink, error) {
	flags := os.O_RDWR | os.O_CREATE
	if !appending {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, &dynamo.IOError{Op: "open", Path: path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &dynamo.IOError{Op: "stat", Path: path, Err: err}
	}
	return newSink(path, f, info.Size(), policy, logger)
}

func newSink(path string, f file, off int64, policy Policy, logger *log.Logger) (*Sink, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Sink{path: path, f: f, off: off, policy: policy, logger: logger}
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		s.enc = enc
	}
	return s, nil
}

func (s *Sink) Path() string     { return s.path }
func (s *Sink) Offset() int64    { return s.off }
func (s *Sink) Compressed() bool { return s.enc != nil }

// Write stores record as one unit.
func (s *Sink) Write(record []byte) error {
	payload := record
	if s.enc != nil {
		payload = s.enc.EncodeAll(record, nil)
	}

	var err error
	wait := s.policy.Backoff
	for attempt := 0; attempt <= s.policy.Retries; attempt++ {
		if attempt > 0 {
			s.logger.Printf("warning: retrying write to %s (%d/%d): %v", s.path, attempt, s.policy.Retries, err)
			time.Sleep(wait)
			wait *= 2
		}
		var n int
		n, err = s.f.WriteAt(payload, s.off)
		if err == nil && n == len(payload) {
			s.off += int64(n)
			s.Records++
			return nil
		}
		if err == nil {
			err = io.ErrShortWrite
		}
		if terr := s.f.Truncate(s.off); terr != nil {
			s.logger.Printf("warning: truncate %s to %d: %v", s.path, s.off, terr)
		}
	}

	ioErr := &dynamo.IOError{Op: "write", Path: s.path, Err: err}
	if s.policy.BestEffort {
		s.Skipped++
		s.logger.Printf("warning: dropped record: %v", ioErr)
		return nil
	}
	return ioErr
}

func (s *Sink) Close() error {
	if s.enc != nil {
		s.enc.Close()
	}
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return &dynamo.IOError{Op: "sync", Path: s.path, Err: err}
	}
	if err := s.f.Close(); err != nil {
		return &dynamo.IOError{Op: "close", Path: s.path, Err: err}
	}
	return nil
}

type zstdReadCloser struct {
	*zstd.Decoder
	f *os.File
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// OpenRecords opens a file written by a Sink for reading, decompressing .zst
// files transparently.
func OpenRecords(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &dynamo.IOError{Op: "open", Path: path, Err: err}
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return zstdReadCloser{Decoder: dec, f: f}, nil
}
