// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Query-farm/script-ipc/scriptipc"
)

// MaxBlobSize bounds the payload Blob will generate.
const MaxBlobSize = 64 << 20

// lookupTable backs the Lookup method.
var lookupTable = map[string]string{
	"alpha": "1",
	"beta":  "2",
	"gamma": "3",
}

// Service implements every conformance method.
type Service struct{}

var _ scriptipc.Serve[Request, Response] = Service{}

// Method returns the json name of the request's set variant.
func (Service) Method(req Request) string {
	return variantName(req)
}

func (Service) Serve(_ context.Context, req Request) (Response, error) {
	switch {
	// Scalar echo
	case req.EchoString != nil:
		return Response{EchoString: req.EchoString}, nil
	case req.EchoBytes != nil:
		return Response{EchoBytes: req.EchoBytes}, nil
	case req.EchoInt != nil:
		return Response{EchoInt: req.EchoInt}, nil
	case req.EchoFloat != nil:
		return Response{EchoFloat: req.EchoFloat}, nil
	case req.EchoBool != nil:
		return Response{EchoBool: req.EchoBool}, nil

	// Complex type echo
	case req.EchoEnum != nil:
		return Response{EchoEnum: req.EchoEnum}, nil
	case req.EchoList != nil:
		return Response{EchoList: req.EchoList}, nil
	case req.EchoDict != nil:
		return Response{EchoDict: req.EchoDict}, nil
	case req.EchoNestedList != nil:
		return Response{EchoNestedList: req.EchoNestedList}, nil
	case req.EchoOptionalString != nil:
		return Response{EchoOptionalString: req.EchoOptionalString}, nil

	// Struct round-trip
	case req.EchoPoint != nil:
		return Response{EchoPoint: req.EchoPoint}, nil
	case req.EchoBoundingBox != nil:
		return Response{EchoBoundingBox: req.EchoBoundingBox}, nil
	case req.EchoAllTypes != nil:
		return Response{EchoAllTypes: req.EchoAllTypes}, nil
	case req.InspectPoint != nil:
		p := req.InspectPoint
		return Response{InspectPoint: &StringValue{Value: fmt.Sprintf("Point(%g, %g)", p.X, p.Y)}}, nil

	// Multi-param
	case req.AddFloats != nil:
		return Response{AddFloats: &FloatValue{Value: req.AddFloats.A + req.AddFloats.B}}, nil
	case req.Concatenate != nil:
		p := req.Concatenate
		sep := p.Separator
		if sep == "" {
			sep = "-"
		}
		return Response{Concatenate: &StringValue{Value: p.Prefix + sep + p.Suffix}}, nil
	case req.VoidWithParam != nil:
		return Response{VoidWithParam: &Ack{Done: true}}, nil

	// Application failure
	case req.Lookup != nil:
		key := req.Lookup.Key
		if v, ok := lookupTable[key]; ok {
			return Response{Lookup: &LookupResult{Value: &v}}, nil
		}
		return Response{Lookup: &LookupResult{Missing: &key}}, nil

	// Large payloads
	case req.Blob != nil:
		size := req.Blob.Size
		if size < 0 || size > MaxBlobSize {
			return Response{}, fmt.Errorf("blob size %d out of range [0, %d]", size, MaxBlobSize)
		}
		return Response{Blob: &BytesValue{Data: Pattern(int(size))}}, nil

	// Protocol failure
	case req.RaiseError != nil:
		p := req.RaiseError
		if p.Code == 0 {
			return Response{}, errors.New(p.Message)
		}
		return Response{}, &scriptipc.ProtocolError{Code: scriptipc.ErrorCode(p.Code), Message: p.Message}
	case req.Panic != nil:
		panic(req.Panic.Message)

	default:
		return Response{}, &scriptipc.ProtocolError{
			Code:    scriptipc.CodeDeserializeError,
			Message: "request carries no method",
		}
	}
}

// Pattern returns n bytes cycling through 0..250, so truncation or
// reordering anywhere in a large payload is detectable.
func Pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// variantName returns the json tag name of the first non-nil pointer field
// of a variant struct, or "".
func variantName(v any) string {
	rv := reflect.ValueOf(v)
	rt := rv.Type()
	for i := range rt.NumField() {
		f := rv.Field(i)
		if f.Kind() != reflect.Ptr || f.IsNil() {
			continue
		}
		name, _, _ := strings.Cut(rt.Field(i).Tag.Get("json"), ",")
		return name
	}
	return ""
}
