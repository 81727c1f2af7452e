// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the payload encodings a channel can use to turn
// request and response values into packet payload bytes.
//
// Every codec is deterministic and round-trips the request/response shapes
// used with the channel: structs whose variants are pointer fields, scalar
// fields, byte slices, lists and maps. Struct fields are named by `json`
// tags for the CBOR, msgpack and JSON codecs and by `ipc` tags for the Arrow
// codec.
package codec

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Codec converts values to and from payload bytes.
type Codec interface {
	// Name identifies the codec, e.g. in CLI flags and log records.
	Name() string
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes data into v, which must be a non-nil pointer.
	Unmarshal(data []byte, v any) error
}

// ZstdPrefix selects the zstd wrapper in Lookup, as in "zstd+cbor".
const ZstdPrefix = "zstd+"

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Codec{
		"cbor":    func() Codec { return CBOR() },
		"msgpack": func() Codec { return Msgpack() },
		"json":    func() Codec { return JSON() },
		"arrow":   func() Codec { return Arrow() },
	}
)

// Register makes a codec available to Lookup under name.
func Register(name string, factory func() Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Lookup returns the codec registered under name. A "zstd+" prefix wraps
// the named codec in Zstd at the default level.
func Lookup(name string) (Codec, error) {
	if inner, ok := strings.CutPrefix(name, ZstdPrefix); ok {
		c, err := Lookup(inner)
		if err != nil {
			return nil, err
		}
		return Zstd(c, zstd.SpeedDefault)
	}

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec %q (available: %v)", name, Names())
	}
	return factory(), nil
}

// Names lists the registered codec names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the codec channels use unless told otherwise.
func Default() Codec {
	return CBOR()
}
