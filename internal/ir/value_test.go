package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{
		"zebra":  IRString("z"),
		"apple":  IRString("a"),
		"banana": IRString("b"),
	}
	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
	assert.Empty(t, IRObject{}.SortedKeys())
}

// U+10000 encodes as a surrogate pair (0xD800 0xDC00) which sorts before
// U+E000 in UTF-16 even though its UTF-8 bytes sort after.
func TestSortedKeysUTF16Order(t *testing.T) {
	obj := IRObject{
		"\uE000":     IRInt(1),
		"\U00010000": IRInt(2),
	}
	assert.Equal(t, []string{"\U00010000", "\uE000"}, obj.SortedKeys())
}

func TestCompareKeysRFC8785(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"a", "b", -1},
		{"b", "a", 1},
		{"a", "a", 0},
		{"a", "aa", -1},
		{"A", "a", -1},
		{"", "a", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compareKeysRFC8785(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestIRObjectClone(t *testing.T) {
	row := IRObject{"id": IRInt(1), "name": IRString("Fred")}
	clone := row.Clone()
	clone["name"] = IRString("Wilma")

	assert.Equal(t, IRString("Fred"), row["name"])
	assert.Equal(t, IRString("Wilma"), clone["name"])
	assert.Nil(t, IRObject(nil).Clone())
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b IRValue
		want bool
	}{
		{"same string", IRString("a"), IRString("a"), true},
		{"different string", IRString("a"), IRString("b"), false},
		{"int vs string", IRInt(1), IRString("1"), false},
		{"bools", IRBool(true), IRBool(true), true},
		{"nulls", IRNull{}, IRNull{}, true},
		{"nil vs nil", nil, nil, true},
		{"nil vs null", nil, IRNull{}, false},
		{"arrays", IRArray{IRInt(1), IRInt(2)}, IRArray{IRInt(1), IRInt(2)}, true},
		{"array order", IRArray{IRInt(1), IRInt(2)}, IRArray{IRInt(2), IRInt(1)}, false},
		{"objects", IRObject{"a": IRInt(1)}, IRObject{"a": IRInt(1)}, true},
		{"object extra key", IRObject{"a": IRInt(1)}, IRObject{"a": IRInt(1), "b": IRInt(2)}, false},
		{"object missing key", IRObject{"a": IRInt(1)}, IRObject{"b": IRInt(1)}, false},
		{
			"nested",
			IRObject{"x": IRArray{IRObject{"y": IRBool(false)}}},
			IRObject{"x": IRArray{IRObject{"y": IRBool(false)}}},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
			assert.Equal(t, tt.want, Equal(tt.b, tt.a))
		})
	}
}

func TestFromGo(t *testing.T) {
	got, err := FromGo(map[string]any{
		"name":  "Fred",
		"id":    1,
		"big":   int64(1 << 40),
		"flag":  true,
		"whole": float64(3),
		"list":  []any{"a", 2},
		"none":  nil,
	})
	require.NoError(t, err)

	want := IRObject{
		"name":  IRString("Fred"),
		"id":    IRInt(1),
		"big":   IRInt(1 << 40),
		"flag":  IRBool(true),
		"whole": IRInt(3),
		"list":  IRArray{IRString("a"), IRInt(2)},
		"none":  IRNull{},
	}
	assert.True(t, Equal(want, got), "got %v", got)
}

func TestFromGoRejectsFractions(t *testing.T) {
	_, err := FromGo(map[string]any{"price": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float")

	_, err = FromGo(struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestToGoInvertsFromGo(t *testing.T) {
	in := map[string]any{
		"name": "Betty",
		"id":   int64(3),
		"ok":   false,
		"tags": []any{"x", int64(1)},
	}
	v, err := FromGo(in)
	require.NoError(t, err)
	assert.Equal(t, in, ToGo(v))
}

func TestUnmarshalRejectsFloats(t *testing.T) {
	for _, input := range []string{`3.14`, `1e10`, `-2.5`, `{"value": 1.5}`, `[1, 2.0, 3]`} {
		t.Run(input, func(t *testing.T) {
			_, err := UnmarshalIRValue([]byte(input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "float")
		})
	}
}

func TestUnmarshalRejectsNull(t *testing.T) {
	for _, input := range []string{`null`, `{"key": null}`, `[1, null]`, `{"a": {"b": [null]}}`} {
		t.Run(input, func(t *testing.T) {
			_, err := UnmarshalIRValue([]byte(input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "null")
		})
	}
}

func TestMarshalIRValueRoundTrip(t *testing.T) {
	values := []IRValue{
		IRString("hello"),
		IRInt(-7),
		IRBool(true),
		IRArray{IRInt(1), IRString("two")},
		IRObject{"b": IRInt(2), "a": IRObject{"c": IRBool(false)}},
	}
	for _, v := range values {
		data, err := MarshalIRValue(v)
		require.NoError(t, err)

		decoded, err := UnmarshalIRValue(data)
		require.NoError(t, err)
		assert.True(t, Equal(v, decoded), "round trip of %s", data)
	}
}

func TestIRObjectMarshalJSONSortsKeys(t *testing.T) {
	data, err := json.Marshal(IRObject{"z": IRInt(1), "a": IRNull{}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":null,"z":1}`, string(data))
}
