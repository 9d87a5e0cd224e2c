package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/crc64nvme"
	"github.com/rs/zerolog/log"
)

// Recorder appends surfaced events to a JSONL log for later inspection.
// Each record carries a CRC64-NVME checksum of the raw frame so a
// truncated or corrupted log line is detectable. Close compresses the log
// with zstd and removes the plain file.
type Recorder struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	enc    *json.Encoder
	closed bool
}

// record is the on-disk line format.
type record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw,omitempty"`
	Checksum  string    `json:"checksum"`
}

// NewRecorder creates a recorder writing to path.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	return &Recorder{
		path: path,
		f:    f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Record appends one event.
func (r *Recorder) Record(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder closed")
	}

	rec := record{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		Message:   ev.Message,
		Raw:       ev.Raw,
		Checksum:  fmt.Sprintf("%016x", crc64nvme.Checksum([]byte(ev.Raw))),
	}

	if err := r.enc.Encode(&rec); err != nil {
		return fmt.Errorf("failed to write event record: %w", err)
	}
	return nil
}

// Close flushes the log, compresses it to <path>.zst and removes the plain
// file. Safe to call once; further Record calls fail.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.f.Close(); err != nil {
		return fmt.Errorf("failed to close event log: %w", err)
	}

	if err := archiveLog(r.path); err != nil {
		return err
	}

	log.Debug().Str("path", r.path+".zst").Msg("event log archived")
	return nil
}

// archiveLog compresses the log file with zstd and removes the original.
func archiveLog(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path + ".zst")
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return fmt.Errorf("failed to compress event log: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("archive created but failed to remove event log: %w", err)
	}

	return nil
}
