package peerstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// fileRecord is the persisted form of a Record.
type fileRecord struct {
	IP        string    `json:"ip"`
	Port      int       `json:"port"`
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	TTL       int       `json:"ttl"`
	Timestamp timestamp `json:"timestamp"`
}

func (rec fileRecord) validate() error {
	switch {
	case rec.IP == "":
		return errors.New("empty ip")
	case rec.Port < 1 || rec.Port > math.MaxUint16:
		return fmt.Errorf("bad port %v", rec.Port)
	case rec.Name == "":
		return errors.New("empty name")
	case rec.Namespace == "":
		return errors.New("empty namespace")
	case rec.TTL < 1:
		return fmt.Errorf("bad ttl %v", rec.TTL)
	case time.Time(rec.Timestamp).IsZero():
		return errors.New("missing timestamp")
	}
	return nil
}

// timestamp is written as RFC 3339 text in UTC. When reading, naive ISO 8601
// text (no zone, assumed UTC) and numeric seconds since the epoch are also
// accepted.
type timestamp time.Time

const naiveISO8601 = "2006-01-02T15:04:05.999999999"

func (ts timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(ts).UTC().Format(time.RFC3339Nano))
}

func (ts *timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			var naiveErr error
			if t, naiveErr = time.ParseInLocation(naiveISO8601, text, time.UTC); naiveErr != nil {
				return fmt.Errorf("parsing timestamp %q: %w", text, err)
			}
		}
		*ts = timestamp(t.UTC())
		return nil
	}

	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parsing timestamp %s: %w", data, err)
	}
	whole, frac := math.Modf(secs)
	*ts = timestamp(time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC())
	return nil
}

// load the snapshot at path. A missing file is not an error. Entries that are
// individually invalid are skipped and logged. When an entry appears more
// than once for the same key, the most recent registration wins.
func load(path string, logger *zap.Logger) (map[Key]Record, error) {
	records := map[Key]Record{}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return records, nil
		}
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return records, nil
	}

	raw := []json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	for i, entry := range raw {
		rec := fileRecord{}
		if err := json.Unmarshal(entry, &rec); err != nil {
			logger.Warn("skipping peer", zap.Int("index", i), zap.Error(err))
			continue
		}
		if err := rec.validate(); err != nil {
			logger.Warn("skipping peer", zap.Int("index", i), zap.Error(err))
			continue
		}
		record := Record{
			IP:        rec.IP,
			Port:      rec.Port,
			Name:      rec.Name,
			Namespace: rec.Namespace,
			TTL:       rec.TTL,
			Timestamp: time.Time(rec.Timestamp),
		}
		if prev, ok := records[record.Key()]; ok && prev.Timestamp.After(record.Timestamp) {
			continue
		}
		records[record.Key()] = record
	}
	return records, nil
}

// save the records to path. The records are written to a temporary file which
// is synced and then renamed over path, so readers see either the previous
// snapshot or the new one, never a partial write.
func save(path string, records []Record) error {
	recs := make([]fileRecord, 0, len(records))
	for _, record := range records {
		recs = append(recs, fileRecord{
			IP:        record.IP,
			Port:      record.Port,
			Name:      record.Name,
			Namespace: record.Namespace,
			TTL:       record.TTL,
			Timestamp: timestamp(record.Timestamp),
		})
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return multierr.Combine(err, f.Close(), os.Remove(tmp))
	}
	if err := f.Sync(); err != nil {
		return multierr.Combine(err, f.Close(), os.Remove(tmp))
	}
	// The file must be closed before renaming it on Windows.
	if err := f.Close(); err != nil {
		return multierr.Append(err, os.Remove(tmp))
	}
	if err := os.Rename(tmp, path); err != nil {
		return multierr.Append(err, os.Remove(tmp))
	}
	syncDir(dir)
	return nil
}

// syncDir makes the rename durable. Not every platform supports syncing a
// directory, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
