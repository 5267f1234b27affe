package rpc

import (
	"fmt"

	"github.com/pkg/errors"
)

// Encoding converts request and response values to and from the bytes
// carried in a frame.
type Encoding interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}

var (
	// Raw passes []byte through unchanged.  Strings are accepted on encode.
	Raw Encoding = raw{}

	// String encodes Go strings as UTF-8.
	String Encoding = str{}

	// None carries no payload.  It ignores the value on encode and always
	// decodes to nil.
	None Encoding = none{}
)

// CBOR returns an encoding that marshals values of type T with CBOR.
// Decode returns a T.
func CBOR[T any]() Encoding {
	return cborEncoding[T]{}
}

// ErrEncoding is returned when a value does not fit its encoding.
var ErrEncoding = errors.New("encoding")

type raw struct{}

func (raw) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}

	return nil, errors.Wrapf(ErrEncoding, "raw: unsupported type %T", v)
}

func (raw) Decode(b []byte) (any, error) {
	if b == nil {
		return []byte{}, nil
	}

	return b, nil
}

type str struct{}

func (str) Encode(v any) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return s, nil
	case fmt.Stringer:
		return []byte(s.String()), nil
	}

	return nil, errors.Wrapf(ErrEncoding, "string: unsupported type %T", v)
}

func (str) Decode(b []byte) (any, error) {
	return string(b), nil
}

type none struct{}

func (none) Encode(any) ([]byte, error) { return nil, nil }
func (none) Decode([]byte) (any, error) { return nil, nil }

type cborEncoding[T any] struct{}

func (cborEncoding[T]) Encode(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	return b, errors.Wrap(err, "cbor")
}

func (cborEncoding[T]) Decode(b []byte) (any, error) {
	var v T
	if err := decMode.Unmarshal(b, &v); err != nil {
		return nil, errors.Wrap(err, "cbor")
	}

	return v, nil
}

func orRaw(e Encoding) Encoding {
	if e == nil {
		return Raw
	}

	return e
}
