package conformance

// Status is a string-backed enum, dictionary-encoded by the Arrow codec.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusClosed  Status = "CLOSED"
)

// Point is a simple 2D point.
type Point struct {
	X float64 `json:"x" ipc:"x"`
	Y float64 `json:"y" ipc:"y"`
}

// BoundingBox contains two nested Points and a label.
type BoundingBox struct {
	TopLeft     Point  `json:"top_left" ipc:"top_left"`
	BottomRight Point  `json:"bottom_right" ipc:"bottom_right"`
	Label       string `json:"label" ipc:"label"`
}

// AllTypes demonstrates comprehensive type coverage.
type AllTypes struct {
	StrField       string            `json:"str_field" ipc:"str_field"`
	BytesField     []byte            `json:"bytes_field" ipc:"bytes_field"`
	IntField       int64             `json:"int_field" ipc:"int_field"`
	UintField      uint64            `json:"uint_field" ipc:"uint_field"`
	FloatField     float64           `json:"float_field" ipc:"float_field"`
	BoolField      bool              `json:"bool_field" ipc:"bool_field"`
	ListOfInt      []int64           `json:"list_of_int" ipc:"list_of_int"`
	ListOfStr      []string          `json:"list_of_str" ipc:"list_of_str"`
	DictField      map[string]int64  `json:"dict_field" ipc:"dict_field"`
	EnumField      Status            `json:"enum_field" ipc:"enum_field,enum"`
	NestedPoint    Point             `json:"nested_point" ipc:"nested_point"`
	OptionalStr    *string           `json:"optional_str" ipc:"optional_str"`
	OptionalInt    *int64            `json:"optional_int" ipc:"optional_int"`
	OptionalNested *Point            `json:"optional_nested" ipc:"optional_nested"`
	ListOfNested   []Point           `json:"list_of_nested" ipc:"list_of_nested"`
	AnnotatedInt32 int32             `json:"annotated_int32" ipc:"annotated_int32"`
	AnnotatedFloat float32           `json:"annotated_float32" ipc:"annotated_float32"`
	NestedList     [][]int64         `json:"nested_list" ipc:"nested_list"`
	DictStrStr     map[string]string `json:"dict_str_str" ipc:"dict_str_str"`
}

// --- Scalar and collection wrappers ---

type StringValue struct {
	Value string `json:"value" ipc:"value"`
}

type BytesValue struct {
	Data []byte `json:"data" ipc:"data"`
}

type IntValue struct {
	Value int64 `json:"value" ipc:"value"`
}

type FloatValue struct {
	Value float64 `json:"value" ipc:"value"`
}

type BoolValue struct {
	Value bool `json:"value" ipc:"value"`
}

type EnumValue struct {
	Status Status `json:"status" ipc:"status,enum"`
}

type ListValue struct {
	Values []string `json:"values" ipc:"values"`
}

type DictValue struct {
	Mapping map[string]int64 `json:"mapping" ipc:"mapping"`
}

type MatrixValue struct {
	Matrix [][]int64 `json:"matrix" ipc:"matrix"`
}

type OptionalStringValue struct {
	Value *string `json:"value" ipc:"value"`
}

// --- Method parameters ---

type AddFloatsParams struct {
	A float64 `json:"a" ipc:"a"`
	B float64 `json:"b" ipc:"b"`
}

// ConcatenateParams joins Prefix and Suffix with Separator, "-" when empty.
type ConcatenateParams struct {
	Prefix    string `json:"prefix" ipc:"prefix"`
	Suffix    string `json:"suffix" ipc:"suffix"`
	Separator string `json:"separator" ipc:"separator"`
}

type LookupParams struct {
	Key string `json:"key" ipc:"key"`
}

// BlobParams asks for Size bytes of a repeating pattern.
type BlobParams struct {
	Size int64 `json:"size" ipc:"size"`
}

// RaiseErrorParams makes the handler fail. Code zero fails with a plain
// error; any other code is sent as that protocol error code.
type RaiseErrorParams struct {
	Message string `json:"message" ipc:"message"`
	Code    uint64 `json:"code" ipc:"code"`
}

// --- Results ---

// LookupResult holds the value for a key, or the key that was missing.
type LookupResult struct {
	Value   *string `json:"value" ipc:"value"`
	Missing *string `json:"missing" ipc:"missing"`
}

type Ack struct {
	Done bool `json:"done" ipc:"done"`
}

// Request carries exactly one method's parameters. The json tag of the set
// field is the method name.
type Request struct {
	EchoString         *StringValue         `json:"echo_string,omitempty" ipc:"echo_string"`
	EchoBytes          *BytesValue          `json:"echo_bytes,omitempty" ipc:"echo_bytes"`
	EchoInt            *IntValue            `json:"echo_int,omitempty" ipc:"echo_int"`
	EchoFloat          *FloatValue          `json:"echo_float,omitempty" ipc:"echo_float"`
	EchoBool           *BoolValue           `json:"echo_bool,omitempty" ipc:"echo_bool"`
	EchoEnum           *EnumValue           `json:"echo_enum,omitempty" ipc:"echo_enum"`
	EchoList           *ListValue           `json:"echo_list,omitempty" ipc:"echo_list"`
	EchoDict           *DictValue           `json:"echo_dict,omitempty" ipc:"echo_dict"`
	EchoNestedList     *MatrixValue         `json:"echo_nested_list,omitempty" ipc:"echo_nested_list"`
	EchoOptionalString *OptionalStringValue `json:"echo_optional_string,omitempty" ipc:"echo_optional_string"`
	EchoPoint          *Point               `json:"echo_point,omitempty" ipc:"echo_point"`
	EchoBoundingBox    *BoundingBox         `json:"echo_bounding_box,omitempty" ipc:"echo_bounding_box"`
	EchoAllTypes       *AllTypes            `json:"echo_all_types,omitempty" ipc:"echo_all_types"`
	InspectPoint       *Point               `json:"inspect_point,omitempty" ipc:"inspect_point"`
	AddFloats          *AddFloatsParams     `json:"add_floats,omitempty" ipc:"add_floats"`
	Concatenate        *ConcatenateParams   `json:"concatenate,omitempty" ipc:"concatenate"`
	VoidWithParam      *IntValue            `json:"void_with_param,omitempty" ipc:"void_with_param"`
	Lookup             *LookupParams        `json:"lookup,omitempty" ipc:"lookup"`
	Blob               *BlobParams          `json:"blob,omitempty" ipc:"blob"`
	RaiseError         *RaiseErrorParams    `json:"raise_error,omitempty" ipc:"raise_error"`
	Panic              *RaiseErrorParams    `json:"panic,omitempty" ipc:"panic"`
}

// Response carries exactly one method's result, in the field named like
// the request's.
type Response struct {
	EchoString         *StringValue         `json:"echo_string,omitempty" ipc:"echo_string"`
	EchoBytes          *BytesValue          `json:"echo_bytes,omitempty" ipc:"echo_bytes"`
	EchoInt            *IntValue            `json:"echo_int,omitempty" ipc:"echo_int"`
	EchoFloat          *FloatValue          `json:"echo_float,omitempty" ipc:"echo_float"`
	EchoBool           *BoolValue           `json:"echo_bool,omitempty" ipc:"echo_bool"`
	EchoEnum           *EnumValue           `json:"echo_enum,omitempty" ipc:"echo_enum"`
	EchoList           *ListValue           `json:"echo_list,omitempty" ipc:"echo_list"`
	EchoDict           *DictValue           `json:"echo_dict,omitempty" ipc:"echo_dict"`
	EchoNestedList     *MatrixValue         `json:"echo_nested_list,omitempty" ipc:"echo_nested_list"`
	EchoOptionalString *OptionalStringValue `json:"echo_optional_string,omitempty" ipc:"echo_optional_string"`
	EchoPoint          *Point               `json:"echo_point,omitempty" ipc:"echo_point"`
	EchoBoundingBox    *BoundingBox         `json:"echo_bounding_box,omitempty" ipc:"echo_bounding_box"`
	EchoAllTypes       *AllTypes            `json:"echo_all_types,omitempty" ipc:"echo_all_types"`
	InspectPoint       *StringValue         `json:"inspect_point,omitempty" ipc:"inspect_point"`
	AddFloats          *FloatValue          `json:"add_floats,omitempty" ipc:"add_floats"`
	Concatenate        *StringValue         `json:"concatenate,omitempty" ipc:"concatenate"`
	VoidWithParam      *Ack                 `json:"void_with_param,omitempty" ipc:"void_with_param"`
	Lookup             *LookupResult        `json:"lookup,omitempty" ipc:"lookup"`
	Blob               *BytesValue          `json:"blob,omitempty" ipc:"blob"`
}
