// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/devblok/vkframe/utility/kar"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testString1 = "idunvovkjnreovmegihjbrqlkmfrjnb"
	testString2 = "idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb"
)

func buildArchive(t *testing.T, files map[string]string) []byte {
	builder, err := kar.NewBuilder(kar.Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	require.NoError(t, err)
	defer builder.Close()

	for name, contents := range files {
		require.NoError(t, builder.Add(name, bytes.NewReader([]byte(contents))))
	}

	buf := bytes.NewBuffer([]byte{})
	written, err := builder.WriteTo(buf)
	require.NoError(t, err)
	t.Logf("written %d", written)
	return buf.Bytes()
}

func TestCreateAndRead(t *testing.T) {
	data := buildArchive(t, map[string]string{
		"test":  testString1,
		"test2": testString2,
	})

	ar, err := kar.Open(bytes.NewReader(data))
	require.NoError(t, err)

	f, err := ar.Open("test")
	require.NoError(t, err)
	assert.Equal(t, int64(len(testString1)), f.Size())

	result := make([]byte, len(testString1))
	_, err = io.ReadFull(f, result)
	require.NoError(t, err)
	assert.Equal(t, testString1, string(result))
}

func TestCreateAndReadAll(t *testing.T) {
	data := buildArchive(t, map[string]string{
		"test":  testString1,
		"test2": testString2,
	})

	ar, err := kar.Open(bytes.NewReader(data))
	require.NoError(t, err)

	f, err := ar.ReadAll("test2")
	require.NoError(t, err)
	assert.Equal(t, testString2, string(f))

	assert.Equal(t, []string{"test", "test2"}, ar.Names())
	assert.Equal(t, "devblok", ar.Header().Author)
}

func TestOpenMissing(t *testing.T) {
	data := buildArchive(t, map[string]string{"test": testString1})

	ar, err := kar.Open(bytes.NewReader(data))
	require.NoError(t, err)

	_, err = ar.ReadAll("nope")
	assert.Equal(t, kar.ErrNotFound, errors.Cause(err))
}

func TestOpenNotAnArchive(t *testing.T) {
	_, err := kar.Open(bytes.NewReader([]byte("PK\x03\x04 definitely a zip file")))
	assert.Equal(t, kar.ErrFileFormat, err)

	_, err = kar.Open(bytes.NewReader([]byte("KA")))
	assert.Equal(t, kar.ErrFileFormat, err)
}
