package codec

import (
	"fmt"
	"reflect"

	ugorji "github.com/ugorji/go/codec"
)

// handleCodec runs values through a ugorji handle.
type handleCodec struct {
	name   string
	handle ugorji.Handle
}

// CBOR returns the default codec: canonical CBOR (RFC 8949).
func CBOR() Codec {
	var h ugorji.CborHandle
	h.Canonical = true
	return &handleCodec{name: "cbor", handle: &h}
}

// Msgpack returns a canonical MessagePack codec that writes the newer
// str8/bin format types.
func Msgpack() Codec {
	var h ugorji.MsgpackHandle
	h.Canonical = true
	h.WriteExt = true
	return &handleCodec{name: "msgpack", handle: &h}
}

func (c *handleCodec) Name() string { return c.name }

func (c *handleCodec) Marshal(v any) ([]byte, error) {
	var out []byte
	if err := ugorji.NewEncoderBytes(&out, c.handle).Encode(boxed(v)); err != nil {
		return nil, fmt.Errorf("%s encode: %w", c.name, err)
	}
	return out, nil
}

func (c *handleCodec) Unmarshal(data []byte, v any) error {
	if err := ugorji.NewDecoderBytes(data, c.handle).Decode(v); err != nil {
		return fmt.Errorf("%s decode: %w", c.name, err)
	}
	return nil
}

// boxed returns a pointer to a copy of v unless v is already a pointer.
// The handles' omitempty check reads a pointer field of a struct held
// directly in an interface (a struct whose only field is a pointer) as the
// pointee's first word, dropping set variants whose first field is nil.
// Behind a pointer the struct is addressable and its fields read correctly.
func boxed(v any) any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() == reflect.Pointer {
		return v
	}
	p := reflect.New(rv.Type())
	p.Elem().Set(rv)
	return p.Interface()
}
