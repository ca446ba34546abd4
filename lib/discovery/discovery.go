// Package discovery publishes the control endpoint of a host process so a
// front-end that only knows the process id can find it.
//
// A record is the file modhost-<pid>.endpoint in the discovery directory. It
// holds the listening port as a 4-byte big-endian integer followed by the
// 16-byte server instance id. A port of 0 means the host is still starting.
package discovery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

const recordSize = 4 + 16

var (
	// ErrNotPublished means no host with that process id published a record.
	ErrNotPublished = errors.New("endpoint not published")

	// ErrInitializing means the host published a record but is not listening yet.
	ErrInitializing = errors.New("host is still initializing")
)

// Record is a published endpoint.
type Record struct {
	Port     int
	Instance uuid.UUID
}

// Dir returns dir, or the system temporary directory when dir is empty.
func Dir(dir string) string {
	if dir == "" {
		return os.TempDir()
	}
	return dir
}

// Path returns the record path for a process id.
func Path(dir string, pid int) string {
	return filepath.Join(Dir(dir), "modhost-"+strconv.Itoa(pid)+".endpoint")
}

// MarshalBinary encodes the record.
func (r Record) MarshalBinary() ([]byte, error) {
	if r.Port < 0 || r.Port > 0xFFFF {
		return nil, fmt.Errorf("invalid port %d", r.Port)
	}
	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint32(buf[:4], uint32(r.Port))
	copy(buf[4:], r.Instance[:])
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) != recordSize {
		return fmt.Errorf("invalid record size %d", len(data))
	}
	r.Port = int(binary.BigEndian.Uint32(data[:4]))
	copy(r.Instance[:], data[4:])
	return nil
}

// Publish writes the record for pid. The file is replaced atomically so a
// reader never observes a partial record.
func Publish(dir string, pid int, rec Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}

	path := Path(dir, pid)
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}
	return nil
}

// Lookup reads the record for pid.
func Lookup(dir string, pid int) (Record, error) {
	data, err := os.ReadFile(Path(dir, pid))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: pid %d", ErrNotPublished, pid)
		}
		return Record{}, err
	}

	var rec Record
	if err := rec.UnmarshalBinary(data); err != nil {
		return Record{}, fmt.Errorf("pid %d: %w", pid, err)
	}
	if rec.Port == 0 {
		return rec, fmt.Errorf("%w: pid %d", ErrInitializing, pid)
	}
	return rec, nil
}

// Remove deletes the record for pid. A missing record is not an error.
func Remove(dir string, pid int) error {
	err := os.Remove(Path(dir, pid))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
