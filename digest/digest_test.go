// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package digest_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wrever/certix/digest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSumKnownVectors(t *testing.T) {
	testDefs := []struct {
		input    string
		expected string
	}{
		{
			input:    "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			input:    "abc",
			expected: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
	}
	for _, testDef := range testDefs {
		d := digest.Sum([]byte(testDef.input))
		assert.Equal(t, testDef.expected, d.Hex())
		assert.Len(t, d.Hex(), digest.HexSize)
	}
}

func TestFromReaderMatchesSum(t *testing.T) {
	data := bytes.Repeat([]byte("certix"), 100000)
	fromReader, err := digest.FromReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, digest.Sum(data), fromReader)
}

func TestParseHexRoundTrip(t *testing.T) {
	d := digest.Sum([]byte("document"))
	parsed, err := digest.ParseHex(d.Hex())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
	// Uppercase input is normalized
	parsed, err = digest.ParseHex(strings.ToUpper(d.Hex()))
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestParseHexRejectsShortDigest(t *testing.T) {
	_, err := digest.ParseHex("abc123")
	require.Error(t, err)
	var lenErr *digest.LengthError
	require.True(t, errors.As(err, &lenErr))
	assert.Equal(t, 6, lenErr.Got)
	assert.Equal(t, digest.HexSize, lenErr.Want)
	assert.Contains(t, err.Error(), "got 6")
}

func TestParseHexRejectsLongDigest(t *testing.T) {
	_, err := digest.ParseHex(strings.Repeat("a", 65))
	var lenErr *digest.LengthError
	require.ErrorAs(t, err, &lenErr)
	assert.Equal(t, 65, lenErr.Got)
}

func TestParseHexRejectsNonHex(t *testing.T) {
	_, err := digest.ParseHex(strings.Repeat("z", digest.HexSize))
	assert.ErrorIs(t, err, digest.ErrInvalidHex)
}

func TestFromBytes(t *testing.T) {
	_, err := digest.FromBytes(make([]byte, 31))
	var lenErr *digest.LengthError
	require.ErrorAs(t, err, &lenErr)
	assert.Equal(t, 31, lenErr.Got)

	d := digest.Sum([]byte("x"))
	got, err := digest.FromBytes(d.Bytes())
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestMemoText(t *testing.T) {
	d := digest.Sum([]byte("memo"))
	assert.Len(t, d.MemoText(), digest.MemoSize)
	assert.True(t, strings.HasPrefix(d.Hex(), d.MemoText()))
}
