package protocol

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRequestThenReadRequestRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("From: a@b.com\r\n\r\nhello\r\n")
	err := WriteRequest(&buf, VerbProcess, body, map[string]string{"User": "alice"})
	require.NoError(t, err)

	req, err := ReadRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, VerbProcess, req.Verb)
	assert.Equal(t, ProtoVersion, req.Version)
	assert.Equal(t, "alice", req.User())
	assert.Equal(t, body, req.Body)
}

func TestReadRequestRejectsBadContentLength(t *testing.T) {
	raw := "CHECK SPAMC/1.5\r\nContent-length: notanumber\r\n\r\n"
	_, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
}

func TestWriteResponseFormatsSpamLineWithDotDecimal(t *testing.T) {
	var buf bytes.Buffer
	err := WriteResponse(&buf, &Response{Code: ExOK, Spam: true, Score: 12.3, Threshold: 5})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "SPAMD/1.5 0 EX_OK\r\n")
	assert.Contains(t, out, "Spam: True ; 12.3 / 5.0\r\n")
}

func TestWriteResponseWithBodyIncludesContentLength(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("report text")
	err := WriteResponse(&buf, &Response{Code: ExOK, Spam: false, Score: 0, Threshold: 5, Body: body, HasBody: true})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Content-length: 11\r\n")
	assert.True(t, strings.HasSuffix(out, "report text"))
}

func TestReadResponseRoundTripsWriteResponse(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("X-Spam-Status: Yes\r\n")
	orig := &Response{Code: ExOK, Message: "EX_OK", Spam: true, Score: 7.2, Threshold: 5.0, Body: body, HasBody: true}
	require.NoError(t, WriteResponse(&buf, orig))

	resp, err := ReadResponse(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, ExOK, resp.Code)
	assert.True(t, resp.Spam)
	assert.InDelta(t, 7.2, resp.Score, 0.01)
	assert.InDelta(t, 5.0, resp.Threshold, 0.01)
	assert.Equal(t, body, resp.Body)
}

func TestParseSpamLineAcceptsYesNoAndTrueFalse(t *testing.T) {
	var resp Response
	parseSpamLine("yes ; 9.9 / 5.0", &resp)
	assert.True(t, resp.Spam)

	resp = Response{}
	parseSpamLine("false ; 0.0 / 5.0", &resp)
	assert.False(t, resp.Spam)
}
