package daemon

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mail-cci/spamassassin/internal/protocol"
	"github.com/mail-cci/spamassassin/internal/rules"
	"github.com/mail-cci/spamassassin/internal/ruleconf"
)

func compile(t *testing.T, conf string) *ruleconf.Store {
	t.Helper()
	s := ruleconf.NewStore()
	ruleconf.Parse(s, conf, false, nil)
	s.Finish()
	require.Zero(t, s.ErrorCount())
	return s
}

// roundTrip drives one request/response exchange through h over an
// in-memory pipe, mirroring how the daemon's accept loop hands a real
// net.Conn to a ConnHandler.
func roundTrip(t *testing.T, h ConnHandler, verb protocol.Verb, body []byte) *protocol.Response {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	done := make(chan struct{})
	go func() {
		h.Handle(context.Background(), serverConn)
		close(done)
	}()

	require.NoError(t, protocol.WriteRequest(clientConn, verb, body, nil))
	resp, err := protocol.ReadResponse(bufio.NewReader(clientConn))
	require.NoError(t, err)
	clientConn.Close()
	<-done
	return resp
}

func TestRequestHandlerCheckReturnsVerdictNoBody(t *testing.T) {
	store := compile(t, "header FOO Subject =~ /viagra/\nscore FOO 10.0\nrequired_score 5.0\n")
	h := &RequestHandler{Engine: rules.NewEngine(store, nil)}

	resp := roundTrip(t, h, protocol.VerbCheck, []byte("Subject: buy viagra now\r\n\r\nbody\r\n"))
	assert.True(t, resp.Spam)
	assert.InDelta(t, 10.0, resp.Score, 0.01)
	assert.False(t, resp.HasBody)
}

func TestRequestHandlerSymbolsListsHits(t *testing.T) {
	store := compile(t, "header FOO Subject =~ /viagra/\nscore FOO 10.0\nrequired_score 5.0\n")
	h := &RequestHandler{Engine: rules.NewEngine(store, nil)}

	resp := roundTrip(t, h, protocol.VerbSymbols, []byte("Subject: buy viagra now\r\n\r\nbody\r\n"))
	require.True(t, resp.HasBody)
	assert.Equal(t, "FOO", string(resp.Body))
}

func TestRequestHandlerProcessRewritesMessage(t *testing.T) {
	store := compile(t, "header FOO Subject =~ /viagra/\nscore FOO 10.0\nrequired_score 5.0\nrewrite_subject 1\nsubject_tag [SPAM]\n")
	h := &RequestHandler{Engine: rules.NewEngine(store, nil)}

	resp := roundTrip(t, h, protocol.VerbProcess, []byte("Subject: buy viagra now\r\n\r\nbody\r\n"))
	require.True(t, resp.HasBody)
	assert.Contains(t, string(resp.Body), "X-Spam-Flag: YES")
	assert.Contains(t, string(resp.Body), "[SPAM]")
}

func TestRequestHandlerReportIfSpamOmitsBodyForHam(t *testing.T) {
	store := compile(t, "header FOO Subject =~ /viagra/\nscore FOO 1.0\nrequired_score 5.0\n")
	h := &RequestHandler{Engine: rules.NewEngine(store, nil)}

	resp := roundTrip(t, h, protocol.VerbReportIfSpam, []byte("Subject: hello\r\n\r\nbody\r\n"))
	assert.False(t, resp.Spam)
	assert.False(t, resp.HasBody)
}

func TestRequestHandlerPingRespondsWithoutParsingBody(t *testing.T) {
	store := compile(t, "required_score 5.0\n")
	h := &RequestHandler{Engine: rules.NewEngine(store, nil)}

	resp := roundTrip(t, h, protocol.VerbPing, nil)
	assert.Equal(t, protocol.ExOK, resp.Code)
}
