package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorString(t *testing.T) {
	c := Cursor{IndexedAt: time.UnixMilli(1700000000000), CID: "bafyA"}
	assert.Equal(t, "1700000000000::bafyA", c.String())
}

func TestParseCursor(t *testing.T) {
	c, err := ParseCursor("1700000000000::bafyA")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), c.IndexedAt.UnixMilli())
	assert.Equal(t, time.UTC, c.IndexedAt.Location())
	assert.Equal(t, "bafyA", c.CID)

	post := Post{URI: "at://did:plc:a/app.bsky.feed.post/1", CID: "bafyB", IndexedAt: time.UnixMilli(1700000000123).UTC()}
	back, err := ParseCursor(CursorAfter(post).String())
	require.NoError(t, err)
	assert.True(t, post.IndexedAt.Equal(back.IndexedAt))
	assert.Equal(t, post.CID, back.CID)
}

func TestParseCursorMalformed(t *testing.T) {
	fixtures := []string{
		"",
		"garbage",
		"1700000000000",
		"abc::bafyA",
		"1::2::3",
		CursorEOF,
	}
	for _, raw := range fixtures {
		_, err := ParseCursor(raw)
		assert.ErrorIs(t, err, ErrMalformedCursor, "cursor %q", raw)
	}
}

func TestVectorBlob(t *testing.T) {
	v := Vector{0.25, -1.5, 3e-7, 0}
	blob := EncodeVector(v)
	assert.Len(t, blob, 16)

	back, err := DecodeVector(blob, v.Dim())
	require.NoError(t, err)
	assert.Equal(t, v, back)

	_, err = DecodeVector(blob[:7], 2)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = DecodeVector(blob, v.Dim()-1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMeanVector(t *testing.T) {
	mean, err := MeanVector([]Vector{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, Vector{2, 3}, mean)

	_, err = MeanVector([]Vector{{1, 2}, {3}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = MeanVector(nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestParseListKind(t *testing.T) {
	for in, want := range map[string]ListKind{
		"whitelist":  Whitelist,
		"White":      Whitelist,
		"black_list": Blacklist,
		" black ":    Blacklist,
	} {
		got, err := ParseListKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseListKind("greylist")
	assert.Error(t, err)
}
