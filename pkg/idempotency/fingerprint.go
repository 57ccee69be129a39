package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"unicode/utf8"
)

// Call identifies one logical invocation.
type Call struct {
	OperationID string
	CallerID    string
	// Params is any JSON-encodable value. Structs and maps with the same
	// fields and values canonicalize identically.
	Params any
}

// Canonicalize returns the order-stable JSON encoding of params. Strings
// must be valid UTF-8; pass binary data as []byte.
func Canonicalize(params any) ([]byte, error) {
	if err := checkUTF8(reflect.ValueOf(params), "params", 0); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("encode canonical params: %w", err)
	}
	return out, nil
}

// Fingerprint derives the hex SHA-256 digest identifying c. Each component is
// length-prefixed so ("ab", "c") and ("a", "bc") never collide.
func Fingerprint(c Call) (string, error) {
	if c.OperationID == "" {
		return "", ErrEmptyOperation
	}
	params, err := Canonicalize(c.Params)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, part := range [][]byte{[]byte(c.OperationID), []byte(c.CallerID), params} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

const maxParamDepth = 512

// checkUTF8 rejects strings encoding/json would rewrite to U+FFFD, which
// would give distinct values the same fingerprint.
func checkUTF8(v reflect.Value, path string, depth int) error {
	if depth > maxParamDepth {
		return fmt.Errorf("%w: %s nested too deeply", ErrInvalidParams, path)
	}
	switch v.Kind() {
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidParams, path)
		}
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			return checkUTF8(v.Elem(), path, depth+1)
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkUTF8(v.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkUTF8(iter.Key(), path+" key", depth+1); err != nil {
				return err
			}
			if err := checkUTF8(iter.Value(), fmt.Sprintf("%s[%v]", path, iter.Key()), depth+1); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := checkUTF8(v.Field(i), path+"."+t.Field(i).Name, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
