package snapshot

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	apperrors "github.com/okamitimo233/NeriPlayer-sub001/internal/errors"
	"github.com/tidwall/gjson"
)

// Format selects the wire encoding of a snapshot payload.
type Format int

const (
	// FormatJSON is the verbose, self-describing textual format.
	FormatJSON Format = iota

	// FormatBinary is the compact format: gob-serialized and gzipped.
	FormatBinary
)

// File name suffixes for the two formats. The reader infers the format
// from the remote path, never by sniffing content, so a blob written
// under one user setting stays readable after the setting changes.
const (
	JSONSuffix   = ".json"
	BinarySuffix = ".gz"
)

// FormatForPath returns the format implied by a remote path's suffix.
func FormatForPath(path string) Format {
	if strings.HasSuffix(path, BinarySuffix) {
		return FormatBinary
	}

	return FormatJSON
}

// Suffix returns the file name suffix for the format.
func (f Format) Suffix() string {
	if f == FormatBinary {
		return BinarySuffix
	}

	return JSONSuffix
}

func (f Format) String() string {
	if f == FormatBinary {
		return "binary"
	}

	return "json"
}

// Encode serializes a snapshot in the given format. The snapshot is
// normalized first so both formats produce equivalent documents.
func Encode(snap *Snapshot, format Format) ([]byte, error) {
	snap.Normalize()

	if format == FormatBinary {
		return encodeBinary(snap)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot as JSON: %w", err)
	}

	return data, nil
}

// Decode deserializes a snapshot payload. Payloads with a schema version
// newer than this build understands fail with ErrDecode rather than
// silently dropping fields.
func Decode(data []byte, format Format) (*Snapshot, error) {
	var (
		snap *Snapshot
		err  error
	)

	if format == FormatBinary {
		snap, err = decodeBinary(data)
	} else {
		snap, err = decodeJSON(data)
	}

	if err != nil {
		return nil, err
	}

	if snap.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d is newer than supported %d",
			apperrors.ErrDecode, snap.SchemaVersion, SchemaVersion)
	}

	snap.Normalize()

	return snap, nil
}

func decodeJSON(data []byte) (*Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", apperrors.ErrDecode)
	}

	// Peek the schema version before the full unmarshal so a payload from
	// a future build produces a version error, not a field-level one.
	if v := gjson.GetBytes(data, "schemaVersion"); v.Exists() && v.Int() > SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d is newer than supported %d",
			apperrors.ErrDecode, v.Int(), SchemaVersion)
	}

	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDecode, err)
	}

	return snap, nil
}

func encodeBinary(snap *Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(zw).Encode(snap); err != nil {
		return nil, fmt.Errorf("encoding snapshot as gob: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}

	return buf.Bytes(), nil
}

func decodeBinary(data []byte) (*Snapshot, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not gzip: %v", apperrors.ErrDecode, err)
	}
	defer zr.Close()

	snap := &Snapshot{}
	if err := gob.NewDecoder(zr).Decode(snap); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDecode, err)
	}

	// Drain to surface a truncated or corrupted gzip trailer.
	if _, err := io.Copy(io.Discard, zr); err != nil {
		return nil, fmt.Errorf("%w: corrupted payload: %v", apperrors.ErrDecode, err)
	}

	return snap, nil
}
