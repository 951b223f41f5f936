package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoundTripsEveryKeyType(t *testing.T) {
	now := time.Unix(0, time.Now().UnixNano()).UTC()
	cases := []Comparable{
		IntKey(-42),
		IntKey(42),
		VarcharKey("hello"),
		FloatKey(-3.5),
		FloatKey(3.5),
		BoolKey(true),
		BoolKey(false),
		DateKey(now),
	}

	for _, c := range cases {
		tag := TagFor(c)
		require.NotZero(t, tag)
		decoded, err := Decode(tag, c.Encode())
		require.NoError(t, err)
		assert.Equal(t, 0, c.Compare(decoded))
	}
}

func TestDecode_UnknownTagErrors(t *testing.T) {
	_, err := Decode(0xFF, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecode_WrongLengthErrors(t *testing.T) {
	_, err := Decode(TagInt, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestIntKey_Encode_PreservesOrder(t *testing.T) {
	small := IntKey(-5).Encode()
	big := IntKey(5).Encode()
	assert.Equal(t, -1, bytesCompare(small, big))
}

func bytesCompare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
