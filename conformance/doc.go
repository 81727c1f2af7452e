// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package conformance provides test fixtures for the script-ipc protocol.
// [Service] answers a broad set of methods that exercise every payload
// codec: scalars, collections, nullable fields, nested structs, enums,
// large payloads whose lengths need multi-byte VLQ prefixes, application
// failures carried in the response, and protocol failures carried in the
// response error code, including handler panics.
//
// The types are exported because they double as examples of request and
// response variants for both the tag-driven codecs and the Arrow codec.
package conformance
