package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// dumpMagic and dumpVersion identify the on-disk format SAVE writes and
// LOAD reads back. A mismatched magic or an unknown version makes LOAD
// fail with ErrBadDumpFormat rather than guess at a layout.
var dumpMagic = [4]byte{'S', 'S', 'A', 'C'}

const dumpVersion = uint8(1)

// dumpMu serializes SAVE and LOAD across the whole process: concurrent
// SAVEs are serialized, concurrent LOADs are serialized, and SAVE/LOAD
// never interleave. Save and Load take shard locks, one at a time, while
// holding it; nothing takes it while holding a shard lock, so the lock
// order is always dumpMu first, then a shard lock.
var dumpMu sync.Mutex

// Save writes every non-expired entry across all shards to the store's
// dump file. Each shard's lock is held only long enough to copy that
// shard's live entries into memory; SAVE therefore does not produce a
// single cross-shard point-in-time snapshot (see SPEC_FULL.md, §9).
func (s *Store) Save() error {
	dumpMu.Lock()
	defer dumpMu.Unlock()

	now := s.now()
	tmpPath := s.dumpPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(dumpMagic[:]); err != nil {
		f.Close()
		return fmt.Errorf("save: %w", err)
	}
	if err := w.WriteByte(dumpVersion); err != nil {
		f.Close()
		return fmt.Errorf("save: %w", err)
	}

	for _, sh := range s.shards {
		for _, se := range sh.snapshot(now) {
			if err := writeRecord(w, se); err != nil {
				f.Close()
				return fmt.Errorf("save: %w", err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("save: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := os.Rename(tmpPath, s.dumpPath); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Load reads the store's dump file and, for every (key, value, expiry)
// record, performs the equivalent of SET (restoring the saved absolute
// expiry, stored as milliseconds since the Unix epoch). LOAD does not
// flush existing keys first: later records overwrite earlier ones and any
// pre-existing in-memory key with the same name.
func (s *Store) Load() error {
	dumpMu.Lock()
	defer dumpMu.Unlock()

	f, err := os.Open(s.dumpPath)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return fmt.Errorf("load: %w", ErrBadDumpFormat)
	}
	if magic != dumpMagic {
		return fmt.Errorf("load: %w", ErrBadDumpFormat)
	}
	version, err := r.ReadByte()
	if err != nil || version != dumpVersion {
		return fmt.Errorf("load: %w", ErrBadDumpFormat)
	}

	for {
		se, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("load: %w", err)
		}
		sh := s.shardFor(se.key)
		sh.setWithExpiry(se.key, se.value, se.expiresAt)
	}
	return nil
}

func writeRecord(w *bufio.Writer, se snapshotEntry) error {
	if err := writeUint32(w, uint32(len(se.key))); err != nil {
		return err
	}
	if _, err := w.WriteString(se.key); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(se.value))); err != nil {
		return err
	}
	if _, err := w.Write(se.value); err != nil {
		return err
	}
	if se.expiresAt.IsZero() {
		return w.WriteByte(0)
	}
	if err := w.WriteByte(1); err != nil {
		return err
	}
	return writeInt64(w, se.expiresAt.UnixMilli())
}

func readRecord(r *bufio.Reader) (snapshotEntry, error) {
	keyLen, err := readUint32(r)
	if err != nil {
		return snapshotEntry{}, err
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return snapshotEntry{}, fmt.Errorf("%w", ErrBadDumpFormat)
	}
	valLen, err := readUint32(r)
	if err != nil {
		return snapshotEntry{}, fmt.Errorf("%w", ErrBadDumpFormat)
	}
	value := make([]byte, valLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return snapshotEntry{}, fmt.Errorf("%w", ErrBadDumpFormat)
	}
	hasExpiry, err := r.ReadByte()
	if err != nil {
		return snapshotEntry{}, fmt.Errorf("%w", ErrBadDumpFormat)
	}
	se := snapshotEntry{key: string(key), value: value}
	if hasExpiry == 1 {
		millis, err := readInt64(r)
		if err != nil {
			return snapshotEntry{}, fmt.Errorf("%w", ErrBadDumpFormat)
		}
		se.expiresAt = time.UnixMilli(millis)
	}
	return se, nil
}

func writeUint32(w *bufio.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, fmt.Errorf("%w", ErrBadDumpFormat)
		}
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeInt64(w *bufio.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func readInt64(r *bufio.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}
