package ds

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderedIndex(t *testing.T) {
	idx := NewOrderedIndex[int]()
	for i, k := range []string{"b", "a", "ab", "abc", "c", "ba"} {
		assert.False(t, idx.Put([]byte(k), i))
	}
	assert.True(t, idx.Put([]byte("a"), 100))
	assert.Equal(t, 6, idx.Size())

	v, ok := idx.Get([]byte("a"))
	assert.True(t, ok)
	assert.Equal(t, 100, v)
	_, ok = idx.Get([]byte("z"))
	assert.False(t, ok)

	type args struct {
		prefix string
		count  int
	}
	tests := []struct {
		name string
		args args
		want []string
	}{
		{"all", args{"", -1}, []string{"a", "ab", "abc", "b", "ba", "c"}},
		{"limited", args{"", 2}, []string{"a", "ab"}},
		{"prefix", args{"a", -1}, []string{"a", "ab", "abc"}},
		{"prefix limited", args{"b", 1}, []string{"b"}},
		{"none", args{"x", -1}, nil},
		{"zero", args{"", 0}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, k := range idx.Keys([]byte(tt.args.prefix), tt.args.count) {
				got = append(got, string(k))
			}
			assert.Equal(t, tt.want, got)
		})
	}

	v, ok = idx.Delete([]byte("ab"))
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = idx.Delete([]byte("ab"))
	assert.False(t, ok)
	assert.Equal(t, 5, idx.Size())
}

func TestSnapshotOrdered(t *testing.T) {
	sm := NewStringMap[int]()
	// 676 distinct two letter keys, the rest are duplicates
	for i := 0; i < 1000; i++ {
		sm.Emplace(string(rune('a'+i%26))+string(rune('a'+i/26%26)), i)
	}
	assert.Equal(t, 26*26, sm.Size())

	idx := SnapshotOrdered(sm, func(key string, value int) bool {
		return key[0] == 'q'
	})
	keys := idx.Keys(nil, -1)
	assert.Len(t, keys, 26)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, string(keys[i-1]), string(keys[i]))
	}
}
