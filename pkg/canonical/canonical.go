// Package canonical produces deterministic JSON for cache keys and change
// detection. Object keys are sorted and numbers are normalised to at most
// 8 decimal places so that equivalent payloads hash identically.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"

	"minerva/pkg/errors"
)

// Canonicalize re-encodes v as canonical JSON.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, errors.Wrap(err, "decode payload")
	}

	var buf bytes.Buffer
	if err := encode(&buf, tree); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Fingerprint returns the hex-encoded SHA-256 of the canonical form of v.
func Fingerprint(v interface{}) (string, error) {
	data, err := Canonicalize(v)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")

	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}

	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return errors.Wrap(err, "encode string")
		}
		buf.Write(enc)

	case json.Number:
		buf.WriteString(normalizeNumber(t))

	case []interface{}:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return errors.Wrap(err, "encode key")
			}
			buf.Write(enc)
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unsupported JSON value %T", v)
	}

	return nil
}

// normalizeNumber rounds to 8 decimal places and trims trailing zeros so
// 1.0, 1.00 and 1 all encode as "1".
func normalizeNumber(n json.Number) string {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return n.String()
	}
	return d.Round(8).String()
}
