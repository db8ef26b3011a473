package orchestrator

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTextKnownExtensions(t *testing.T) {
	text, ok := extractText("report.CSV", []byte("name,ssn\nalice,123-45-6789\n"))
	assert.True(t, ok)
	assert.Contains(t, text, "123-45-6789")

	// Known text extensions skip sniffing entirely.
	text, ok = extractText("weird.log", []byte{0xff, 0xfe, 'h', 'i'})
	assert.True(t, ok)
	assert.Len(t, text, 4)
}

func TestExtractTextSniffsUnknownExtensions(t *testing.T) {
	text, ok := extractText("notes", []byte("plain utf-8 content"))
	assert.True(t, ok)
	assert.Equal(t, "plain utf-8 content", text)

	_, ok = extractText("binary.bin", []byte{'P', 'K', 0x03, 0x04, 0x00, 0x01})
	assert.False(t, ok)

	_, ok = extractText("latin1.dat", []byte{'c', 'a', 'f', 0xe9})
	assert.False(t, ok)
}

func TestExtractTextEmpty(t *testing.T) {
	_, ok := extractText("empty.txt", nil)
	assert.False(t, ok)
}

func TestExtractTextProbeWindow(t *testing.T) {
	// A NUL past the 8 KiB probe window is not seen by the sniffer.
	data := append(bytes.Repeat([]byte("a"), 9000), 0x00)
	_, ok := extractText("big", data)
	assert.True(t, ok)

	data = append(bytes.Repeat([]byte("a"), 100), 0x00)
	_, ok = extractText("small", data)
	assert.False(t, ok)
}
