package datom

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewString_Normalizes(t *testing.T) {
	a := NewString("café")
	b := NewString("café")
	assert.Equal(t, a, b)
	assert.True(t, Equal(a, b))
}

func TestNewInstant_TruncatesToMillis(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 45, 123_456_789, time.FixedZone("X", 3600))
	inst := NewInstant(ts)
	got := inst.Time()
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, int64(123), int64(got.Nanosecond())/1e6)
	assert.Zero(t, got.Nanosecond()%1e6)
}

// TestSQLParamDecodeValue_RoundTrip tests that every variant survives the
// storage encoding.
func TestSQLParamDecodeValue_RoundTrip(t *testing.T) {
	u := uuid.MustParse("a1a2a3a4-b1b2-c1c2-d1d2-e1e2e3e4e5e6")
	cases := []struct {
		name string
		v    Value
	}{
		{"ref", Ref(42)},
		{"string", NewString("hello")},
		{"keyword", KeywordValue(MustKeyword("status/active"))},
		{"bool true", Bool(true)},
		{"bool false", Bool(false)},
		{"long", Long(-7)},
		{"double", Double(3.5)},
		{"instant", NewInstant(time.Date(2024, 1, 2, 3, 4, 5, 6e6, time.UTC))},
		{"uuid", UUID(u)},
		{"bytes", Bytes{0x00, 0xff, 0x10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := SQLParam(tc.v)
			got, err := DecodeValue(tc.v.Type(), raw)
			require.NoError(t, err)
			assert.True(t, Equal(tc.v, got), "want %s, got %s", Format(tc.v), Format(got))
		})
	}
}

func TestDecodeValue_WholeDoubleStoredAsInteger(t *testing.T) {
	// SQLite gives a whole float back with integer affinity.
	got, err := DecodeValue(TypeDouble, int64(4))
	require.NoError(t, err)
	assert.Equal(t, Double(4), got)
}

func TestDecodeValue_IntegrityErrors(t *testing.T) {
	cases := []struct {
		name string
		typ  ValueType
		raw  any
	}{
		{"ref from text", TypeRef, "42"},
		{"long from float", TypeLong, 1.5},
		{"bool out of range", TypeBool, int64(2)},
		{"double from text", TypeDouble, "3.5"},
		{"uuid malformed", TypeUUID, "not-a-uuid"},
		{"keyword malformed", TypeKeyword, "noslash"},
		{"bytes from int", TypeBytes, int64(9)},
		{"unknown type", ValueType(99), int64(1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeValue(tc.typ, tc.raw)
			var ie *DataIntegrityError
			require.ErrorAs(t, err, &ie)
		})
	}
}

func TestDecodeValue_BytesAreCloned(t *testing.T) {
	raw := []byte{1, 2, 3}
	got, err := DecodeValue(TypeBytes, raw)
	require.NoError(t, err)
	raw[0] = 99
	assert.Equal(t, Bytes{1, 2, 3}, got)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Long(1), Long(1)))
	assert.False(t, Equal(Long(1), Long(2)))
	// Same content, different type tag: never equal.
	assert.False(t, Equal(Long(1), Ref(1)))
	assert.False(t, Equal(Long(1), Double(1)))
	assert.True(t, Equal(Bytes{1, 2}, Bytes{1, 2}))
	assert.False(t, Equal(Bytes{1, 2}, Bytes{1, 3}))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(Long(1), nil))
}

func TestCompare_OrdersByTypeThenContent(t *testing.T) {
	assert.Negative(t, Compare(Ref(9), NewString("a")))
	assert.Negative(t, Compare(Long(1), Long(2)))
	assert.Positive(t, Compare(NewString("b"), NewString("a")))
	assert.Zero(t, Compare(Bool(true), Bool(true)))
	assert.Negative(t, Compare(Bool(false), Bool(true)))
	assert.Negative(t, Compare(Bytes{1}, Bytes{2}))
}

func TestParseValueType(t *testing.T) {
	for typ, name := range map[ValueType]string{
		TypeRef: "ref", TypeString: "string", TypeKeyword: "keyword",
		TypeBool: "boolean", TypeLong: "long", TypeDouble: "double",
		TypeInstant: "instant", TypeUUID: "uuid", TypeBytes: "bytes",
	} {
		got, err := ParseValueType(name)
		require.NoError(t, err)
		assert.Equal(t, typ, got)
		assert.Equal(t, name, typ.String())
	}
	_, err := ParseValueType("float")
	assert.Error(t, err)
}
