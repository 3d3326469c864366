package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// GetJSON decodes the JSON record at key into v.
// Returns false if the key does not exist.
func GetJSON(r Reader, key []byte, v any) (bool, error) {
	data, ok, err := r.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %q: %w", key, err)
	}
	return true, nil
}

// PutJSON stages v as a JSON record at key
func PutJSON(w Writer, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %q: %w", key, err)
	}
	w.Set(key, data)
	return nil
}

// GetUint64 reads a big-endian counter; missing keys read as zero
func GetUint64(r Reader, key []byte) (uint64, error) {
	data, ok, err := r.Get(key)
	if err != nil || !ok {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt uint64 at %q: %d bytes", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// PutUint64 stages a big-endian counter
func PutUint64(w Writer, key []byte, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	w.Set(key, buf[:])
}

// DecodeJSON decodes a raw value visited by Scan
func DecodeJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}
