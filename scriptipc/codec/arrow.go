// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// valueColumn names the single column used when the value is not a struct.
const valueColumn = "value"

// arrowCodec encodes a value as an Arrow IPC stream holding one schema and
// one single-row record batch. Struct fields map to columns through `ipc`
// struct tags:
//
//	`ipc:"wire_name[,option]"`
//
// The only option is "enum", which dictionary-encodes a string field.
// Pointer fields are nullable; a nil pointer to a struct is a null struct
// entry, which is how request and response variants are carried. Byte
// slices are nullable too, so nil and empty slices stay distinct. Every
// struct type must have at least one tagged field.
type arrowCodec struct {
	mem     memory.Allocator
	schemas sync.Map // reflect.Type -> *arrow.Schema
}

// Arrow returns the Arrow IPC codec.
func Arrow() Codec {
	return &arrowCodec{mem: memory.NewGoAllocator()}
}

func (c *arrowCodec) Name() string { return "arrow" }

func (c *arrowCodec) Marshal(v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("arrow encode: nil %v", rv.Type())
		}
		rv = rv.Elem()
	}

	schema, err := c.schemaFor(rv.Type())
	if err != nil {
		return nil, fmt.Errorf("arrow encode: %w", err)
	}

	cols := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, col := range cols {
			if col != nil {
				col.Release()
			}
		}
	}()
	for i := range schema.NumFields() {
		f := schema.Field(i)
		var val any
		if rv.Kind() == reflect.Struct {
			val, err = fieldByTag(rv, f.Name)
			if err != nil {
				return nil, fmt.Errorf("arrow encode: %w", err)
			}
		} else {
			val = rv.Interface()
		}
		arr, err := buildArray(c.mem, f.Type, val)
		if err != nil {
			return nil, fmt.Errorf("arrow encode: field %s: %w", f.Name, err)
		}
		cols[i] = arr
	}

	batch := array.NewRecordBatch(schema, cols, 1)
	defer batch.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(c.mem))
	if err := w.Write(batch); err != nil {
		return nil, fmt.Errorf("arrow encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("arrow encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *arrowCodec) Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("arrow decode: target must be a non-nil pointer, got %T", v)
	}
	target := rv.Elem()
	if _, err := c.schemaFor(target.Type()); err != nil {
		return fmt.Errorf("arrow decode: %w", err)
	}

	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.mem))
	if err != nil {
		return fmt.Errorf("arrow decode: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return fmt.Errorf("arrow decode: %w", err)
		}
		return fmt.Errorf("arrow decode: no record batch in stream")
	}
	batch := reader.RecordBatch()
	if batch.NumRows() != 1 {
		return fmt.Errorf("arrow decode: expected 1 row, got %d", batch.NumRows())
	}

	if target.Kind() != reflect.Struct {
		col := columnByName(batch, valueColumn)
		if col == nil {
			return fmt.Errorf("arrow decode: missing %q column", valueColumn)
		}
		return setFieldFromArrow(target, target.Type(), col, 0, tagInfo{})
	}

	t := target.Type()
	for i := range t.NumField() {
		f := t.Field(i)
		info, ok := lookupTag(f)
		if !ok {
			continue
		}
		col := columnByName(batch, info.Name)
		if col == nil {
			continue
		}
		if err := setFieldFromArrow(target.Field(i), f.Type, col, 0, info); err != nil {
			return fmt.Errorf("arrow decode: field %s: %w", info.Name, err)
		}
	}
	return nil
}

func (c *arrowCodec) schemaFor(t reflect.Type) (*arrow.Schema, error) {
	if s, ok := c.schemas.Load(t); ok {
		return s.(*arrow.Schema), nil
	}
	var schema *arrow.Schema
	if t.Kind() == reflect.Struct {
		fields, err := structFields(t)
		if err != nil {
			return nil, err
		}
		schema = arrow.NewSchema(fields, nil)
	} else {
		dt, nullable, err := goTypeToArrowType(t, tagInfo{})
		if err != nil {
			return nil, err
		}
		schema = arrow.NewSchema([]arrow.Field{{Name: valueColumn, Type: dt, Nullable: nullable}}, nil)
	}
	c.schemas.Store(t, schema)
	return schema, nil
}

func columnByName(batch arrow.RecordBatch, name string) arrow.Array {
	for i := range batch.NumCols() {
		if batch.ColumnName(int(i)) == name {
			return batch.Column(int(i))
		}
	}
	return nil
}

// tagInfo holds a parsed `ipc` struct tag.
type tagInfo struct {
	Name string
	Enum bool
}

func lookupTag(f reflect.StructField) (tagInfo, bool) {
	tag := f.Tag.Get("ipc")
	if tag == "" || tag == "-" || !f.IsExported() {
		return tagInfo{}, false
	}
	parts := strings.Split(tag, ",")
	info := tagInfo{Name: parts[0]}
	for _, opt := range parts[1:] {
		if opt == "enum" {
			info.Enum = true
		}
	}
	return info, true
}

func structFields(t reflect.Type) ([]arrow.Field, error) {
	var fields []arrow.Field
	for i := range t.NumField() {
		f := t.Field(i)
		info, ok := lookupTag(f)
		if !ok {
			continue
		}
		dt, nullable, err := goTypeToArrowType(f.Type, info)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		fields = append(fields, arrow.Field{Name: info.Name, Type: dt, Nullable: nullable})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("struct %v has no ipc-tagged fields", t)
	}
	return fields, nil
}

// goTypeToArrowType maps a Go type to an Arrow type and reports whether the
// column is nullable.
func goTypeToArrowType(t reflect.Type, tag tagInfo) (arrow.DataType, bool, error) {
	nullable := false
	if t.Kind() == reflect.Ptr {
		nullable = true
		t = t.Elem()
	}

	if tag.Enum {
		if t.Kind() != reflect.String {
			return nil, false, fmt.Errorf("enum option on non-string type %v", t)
		}
		return &arrow.DictionaryType{
			IndexType: arrow.PrimitiveTypes.Int16,
			ValueType: arrow.BinaryTypes.String,
		}, nullable, nil
	}

	switch t.Kind() {
	case reflect.String:
		return arrow.BinaryTypes.String, nullable, nil
	case reflect.Int64, reflect.Int:
		return arrow.PrimitiveTypes.Int64, nullable, nil
	case reflect.Int32:
		return arrow.PrimitiveTypes.Int32, nullable, nil
	case reflect.Uint64, reflect.Uint:
		return arrow.PrimitiveTypes.Uint64, nullable, nil
	case reflect.Float64:
		return arrow.PrimitiveTypes.Float64, nullable, nil
	case reflect.Float32:
		return arrow.PrimitiveTypes.Float32, nullable, nil
	case reflect.Bool:
		return &arrow.BooleanType{}, nullable, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return arrow.BinaryTypes.Binary, true, nil
		}
		elem, _, err := goTypeToArrowType(t.Elem(), tagInfo{})
		if err != nil {
			return nil, false, fmt.Errorf("list element: %w", err)
		}
		return arrow.ListOf(elem), nullable, nil
	case reflect.Map:
		key, _, err := goTypeToArrowType(t.Key(), tagInfo{})
		if err != nil {
			return nil, false, fmt.Errorf("map key: %w", err)
		}
		val, _, err := goTypeToArrowType(t.Elem(), tagInfo{})
		if err != nil {
			return nil, false, fmt.Errorf("map value: %w", err)
		}
		return arrow.MapOf(key, val), nullable, nil
	case reflect.Struct:
		fields, err := structFields(t)
		if err != nil {
			return nil, false, err
		}
		return arrow.StructOf(fields...), nullable, nil
	default:
		return nil, false, fmt.Errorf("unsupported Go type: %v (kind: %v)", t, t.Kind())
	}
}

// fieldByTag returns the value of the struct field tagged with name.
func fieldByTag(rv reflect.Value, name string) (any, error) {
	rt := rv.Type()
	for i := range rt.NumField() {
		if info, ok := lookupTag(rt.Field(i)); ok && info.Name == name {
			return rv.Field(i).Interface(), nil
		}
	}
	return nil, fmt.Errorf("no field with ipc tag %q", name)
}

// buildArray creates a one-element array holding value.
func buildArray(mem memory.Allocator, dt arrow.DataType, value any) (arrow.Array, error) {
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	if err := appendToBuilder(b, dt, value); err != nil {
		return nil, err
	}
	return b.NewArray(), nil
}

// appendToBuilder appends a single value to an Arrow array builder.
func appendToBuilder(b array.Builder, dt arrow.DataType, value any) error {
	if value == nil {
		b.AppendNull()
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			b.AppendNull()
			return nil
		}
		rv = rv.Elem()
	}

	switch dt.ID() {
	case arrow.STRING:
		b.(*array.StringBuilder).Append(rv.String())
	case arrow.INT64:
		b.(*array.Int64Builder).Append(rv.Int())
	case arrow.INT32:
		b.(*array.Int32Builder).Append(int32(rv.Int()))
	case arrow.UINT64:
		b.(*array.Uint64Builder).Append(rv.Uint())
	case arrow.FLOAT64:
		b.(*array.Float64Builder).Append(rv.Float())
	case arrow.FLOAT32:
		b.(*array.Float32Builder).Append(float32(rv.Float()))
	case arrow.BOOL:
		b.(*array.BooleanBuilder).Append(rv.Bool())
	case arrow.BINARY:
		if rv.IsNil() {
			b.AppendNull()
			return nil
		}
		b.(*array.BinaryBuilder).Append(rv.Bytes())
	case arrow.DICTIONARY:
		if err := b.(*array.BinaryDictionaryBuilder).AppendString(rv.String()); err != nil {
			return err
		}
	case arrow.LIST:
		lb := b.(*array.ListBuilder)
		lb.Append(true)
		vb := lb.ValueBuilder()
		elemType := dt.(*arrow.ListType).Elem()
		for i := range rv.Len() {
			if err := appendToBuilder(vb, elemType, rv.Index(i).Interface()); err != nil {
				return fmt.Errorf("list element [%d]: %w", i, err)
			}
		}
	case arrow.MAP:
		mt := dt.(*arrow.MapType)
		mb := b.(*array.MapBuilder)
		mb.Append(true)
		kb := mb.KeyBuilder()
		ib := mb.ItemBuilder()
		// Sorted keys keep the encoding deterministic.
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprintf("%v", keys[i].Interface()) < fmt.Sprintf("%v", keys[j].Interface())
		})
		for _, k := range keys {
			if err := appendToBuilder(kb, mt.KeyType(), k.Interface()); err != nil {
				return fmt.Errorf("map key: %w", err)
			}
			if err := appendToBuilder(ib, mt.ItemType(), rv.MapIndex(k).Interface()); err != nil {
				return fmt.Errorf("map value: %w", err)
			}
		}
	case arrow.STRUCT:
		st := dt.(*arrow.StructType)
		sb := b.(*array.StructBuilder)
		sb.Append(true)
		for i := range st.NumFields() {
			sf := st.Field(i)
			val, err := fieldByTag(rv, sf.Name)
			if err != nil {
				return err
			}
			if err := appendToBuilder(sb.FieldBuilder(i), sf.Type, val); err != nil {
				return fmt.Errorf("struct field %s: %w", sf.Name, err)
			}
		}
	default:
		return fmt.Errorf("unsupported Arrow type for serialization: %v", dt)
	}
	return nil
}

// setFieldFromArrow sets field from element idx of col. Null elements
// leave the field at its zero value.
func setFieldFromArrow(field reflect.Value, fieldType reflect.Type, col arrow.Array, idx int, info tagInfo) error {
	if col.IsNull(idx) {
		return nil
	}
	if fieldType.Kind() == reflect.Ptr {
		ptr := reflect.New(fieldType.Elem())
		if err := setFieldFromArrow(ptr.Elem(), fieldType.Elem(), col, idx, info); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}

	switch c := col.(type) {
	case *array.String:
		field.SetString(strings.Clone(c.Value(idx)))
	case *array.Int64:
		field.SetInt(c.Value(idx))
	case *array.Int32:
		field.SetInt(int64(c.Value(idx)))
	case *array.Uint64:
		field.SetUint(c.Value(idx))
	case *array.Float64:
		field.SetFloat(c.Value(idx))
	case *array.Float32:
		field.SetFloat(float64(c.Value(idx)))
	case *array.Boolean:
		field.SetBool(c.Value(idx))
	case *array.Binary:
		v := c.Value(idx)
		data := make([]byte, len(v))
		copy(data, v)
		field.SetBytes(data)
	case *array.Dictionary:
		dict, ok := c.Dictionary().(*array.String)
		if !ok {
			return fmt.Errorf("expected string dictionary, got %T", c.Dictionary())
		}
		field.SetString(strings.Clone(dict.Value(c.GetValueIndex(idx))))
	case *array.Map:
		return setMapField(field, fieldType, c, idx)
	case *array.List:
		return setListField(field, fieldType, c, idx)
	case *array.Struct:
		return setStructField(field, fieldType, c, idx)
	default:
		return fmt.Errorf("unsupported Arrow array type: %T", col)
	}
	return nil
}

func setListField(field reflect.Value, fieldType reflect.Type, listArr *array.List, idx int) error {
	start, end := listArr.ValueOffsets(idx)
	values := listArr.ListValues()
	length := int(end - start)

	slice := reflect.MakeSlice(fieldType, length, length)
	for j := range length {
		if err := setFieldFromArrow(slice.Index(j), fieldType.Elem(), values, int(start)+j, tagInfo{}); err != nil {
			return fmt.Errorf("list element [%d]: %w", j, err)
		}
	}
	field.Set(slice)
	return nil
}

func setMapField(field reflect.Value, fieldType reflect.Type, mapArr *array.Map, idx int) error {
	start, end := mapArr.ValueOffsets(idx)
	keys := mapArr.Keys()
	items := mapArr.Items()
	length := int(end - start)

	m := reflect.MakeMapWithSize(fieldType, length)
	for j := range length {
		k := reflect.New(fieldType.Key()).Elem()
		v := reflect.New(fieldType.Elem()).Elem()
		if err := setFieldFromArrow(k, fieldType.Key(), keys, int(start)+j, tagInfo{}); err != nil {
			return fmt.Errorf("map key [%d]: %w", j, err)
		}
		if err := setFieldFromArrow(v, fieldType.Elem(), items, int(start)+j, tagInfo{}); err != nil {
			return fmt.Errorf("map value [%d]: %w", j, err)
		}
		m.SetMapIndex(k, v)
	}
	field.Set(m)
	return nil
}

func setStructField(field reflect.Value, fieldType reflect.Type, structArr *array.Struct, idx int) error {
	st := structArr.DataType().(*arrow.StructType)
	result := reflect.New(fieldType).Elem()
	for fi := range fieldType.NumField() {
		goField := fieldType.Field(fi)
		info, ok := lookupTag(goField)
		if !ok {
			continue
		}
		childIdx, found := st.FieldIdx(info.Name)
		if !found {
			continue
		}
		if err := setFieldFromArrow(result.Field(fi), goField.Type, structArr.Field(childIdx), idx, info); err != nil {
			return fmt.Errorf("struct field %s: %w", info.Name, err)
		}
	}
	field.Set(result)
	return nil
}
