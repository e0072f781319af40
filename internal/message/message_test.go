package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeadersAndBody(t *testing.T) {
	raw := []byte("Subject: You can WIN today\r\nFrom: a@example.com\r\n\r\nHello\r\nWorld\r\n")
	m := Parse(raw)

	require.Equal(t, "You can WIN today", m.GetHeader("Subject", ""))
	assert.Equal(t, "a@example.com", m.GetHeader("From:addr", ""))
	assert.Equal(t, []string{"Hello\n", "World\n"}, m.GetBodyLines())
}

func TestGetHeaderDSL(t *testing.T) {
	raw := []byte("To: \"Alice Doe\" <alice@example.com>\r\nCc: bob@example.com\r\n\r\nbody\r\n")
	m := Parse(raw)

	assert.Equal(t, "alice@example.com", m.GetHeader("To:addr", ""))
	assert.Equal(t, "Alice Doe", m.GetHeader("To:name", ""))
	assert.Equal(t, "\"Alice Doe\" <alice@example.com>\nbob@example.com\n", m.GetHeader("ToCc", "")+"\n")
}

func TestHeaderCacheInvalidatedOnMutation(t *testing.T) {
	m := Parse([]byte("X-Foo: bar\r\n\r\nbody\r\n"))
	assert.Equal(t, "bar", m.GetHeader("X-Foo", ""))

	m.ReplaceHeader("X-Foo", "baz")
	assert.Equal(t, "baz", m.GetHeader("X-Foo", ""))
}

func TestGetURIsBareHostnameAndMailto(t *testing.T) {
	raw := []byte("Subject: hi\r\n\r\nVisit www.example.com or mailto:x@example.com\r\n")
	m := Parse(raw)
	uris := m.GetURIs()
	assert.Contains(t, uris, "http://www.example.com")
	assert.Contains(t, uris, "mailto:x@example.com")
}

func TestBodyLineChunking(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}
	raw := append([]byte("Subject: x\r\n\r\n"), long...)
	m := Parse(raw)
	lines := m.GetBodyLines()
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], maxLineLen)
	assert.Equal(t, 5000-maxLineLen+1, len(lines[1])) // +1 for the trailing '\n' splitLines appends
}

func TestGetHeaderDefault(t *testing.T) {
	m := Parse([]byte("Subject: hi\r\n\r\nbody\r\n"))
	assert.Equal(t, "fallback", m.GetHeader("X-Missing", "fallback"))
}
