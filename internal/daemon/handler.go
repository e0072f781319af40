package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mail-cci/spamassassin/internal/message"
	"github.com/mail-cci/spamassassin/internal/metrics"
	"github.com/mail-cci/spamassassin/internal/protocol"
	"github.com/mail-cci/spamassassin/internal/report"
	"github.com/mail-cci/spamassassin/internal/rules"
	"github.com/mail-cci/spamassassin/internal/scoring"
	"github.com/mail-cci/spamassassin/internal/storage"
	"github.com/mail-cci/spamassassin/pkg/helpers"
)

// RequestHandler answers one C7 wire request per connection (§4.7): it
// classifies the body with the C3 engine (which itself folds in the C4
// Bayes opinion, §4.4) and renders the verb's required response shape with
// the C5 reporter. It implements ConnHandler.
type RequestHandler struct {
	// Engine is the static engine used when EngineRef is nil (the common
	// case in tests and single-config deployments).
	Engine  *rules.Engine
	BayesOn bool
	NetOn   bool
	Logf    func(string, ...interface{})

	// EngineRef, when set, is consulted instead of Engine on every request
	// (§4.2, "C2 re-reads and atomically replaces the compiled ruleset"):
	// cmd/spamd's SIGHUP reload path stores a freshly compiled *rules.Engine
	// here so in-flight and future requests pick it up without a restart,
	// while requests already past this load keep running against the old
	// one to completion.
	EngineRef *atomic.Pointer[rules.Engine]

	// Audit, if set, receives a best-effort AuditRecord after every
	// classification (SPEC_FULL §3 supplement). A nil Audit disables the
	// audit trail entirely.
	Audit *storage.Store
}

var _ ConnHandler = (*RequestHandler)(nil)

func (h *RequestHandler) engine() *rules.Engine {
	if h.EngineRef != nil {
		if e := h.EngineRef.Load(); e != nil {
			return e
		}
	}
	return h.Engine
}

// Handle reads exactly one request and writes exactly one response, then
// returns; the daemon closes the connection afterward (§4.7 is one
// request per connection, matching the classic spamd contract).
func (h *RequestHandler) Handle(ctx context.Context, conn net.Conn) {
	r := bufio.NewReader(conn)
	req, err := protocol.ReadRequest(r)
	if err != nil {
		h.logf("daemon: reading request: %v", err)
		protocol.WriteResponse(conn, &protocol.Response{Code: protocol.ExProtocol, Message: "EX_PROTOCOL"})
		return
	}

	if req.Verb == protocol.VerbPing {
		protocol.WriteResponse(conn, &protocol.Response{Code: protocol.ExOK, Message: "PONG"})
		return
	}

	resp, err := h.classify(ctx, req)
	if err != nil {
		h.logf("daemon: classifying request: %v", err)
		protocol.WriteResponse(conn, &protocol.Response{Code: protocol.ExSoftware, Message: "EX_SOFTWARE"})
		return
	}
	if err := protocol.WriteResponse(conn, resp); err != nil {
		h.logf("daemon: writing response: %v", err)
	}
}

func (h *RequestHandler) classify(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if len(req.Body) == 0 {
		return nil, fmt.Errorf("empty message body")
	}
	RecordBytes(ctx, len(req.Body))
	metrics.BytesClassified.Add(float64(len(req.Body)))
	msg := message.Parse(req.Body)
	engine := h.engine()
	p := engine.Check(ctx, msg, h.BayesOn, h.NetOn)
	store := engine.Store

	resp := &protocol.Response{
		Code:      protocol.ExOK,
		Spam:      p.Verdict(),
		Score:     p.Score(),
		Threshold: store.Settings.RequiredScore,
	}

	switch req.Verb {
	case protocol.VerbCheck:
		// bare verdict/score, no body.
	case protocol.VerbSymbols:
		resp.Body = []byte(strings.Join(p.Hits(), ","))
		resp.HasBody = true
	case protocol.VerbReport, protocol.VerbReportIfSpam:
		if req.Verb == protocol.VerbReport || p.Verdict() {
			resp.Body = []byte(report.FullReport(store, p))
			resp.HasBody = true
		}
	case protocol.VerbProcess:
		report.AddStatusHeaders(msg, p, store)
		if p.Verdict() {
			if err := report.MarkSpam(msg, p, store); err != nil {
				return nil, fmt.Errorf("marking spam: %w", err)
			}
		}
		resp.Body = msg.GetFullText()
		resp.HasBody = true
	default:
		return nil, fmt.Errorf("unsupported verb %q", req.Verb)
	}

	h.writeAudit(msg, p, store.Settings.RequiredScore)
	return resp, nil
}

// writeAudit persists the classification's AuditRecord best-effort: §7's
// propagation policy is that a storage fault never reopens a response
// already sent to the client, so this always runs after resp is built and
// never returns an error to the caller.
func (h *RequestHandler) writeAudit(msg *message.Message, p *rules.PerMsgStatus, threshold float64) {
	if h.Audit == nil {
		return
	}
	rec := storage.AuditRecord{
		CorrelationID: helpers.GenerateCorrelationID(),
		MessageID:     msg.GetHeader("Message-ID", ""),
		Score:         p.Score(),
		Threshold:     threshold,
		Verdict:       p.Verdict(),
		MatchedRules:  strings.Join(p.Hits(), ","),
		Action:        scoring.Decide(p.Score()),
		ReceivedAt:    time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := h.Audit.WriteAudit(ctx, rec); err != nil {
			metrics.AuditWritesTotal.WithLabelValues("error").Inc()
			h.logf("daemon: writing audit record: %v", err)
			return
		}
		metrics.AuditWritesTotal.WithLabelValues("ok").Inc()
	}()
}

func (h *RequestHandler) logf(format string, args ...interface{}) {
	if h.Logf != nil {
		h.Logf(format, args...)
	}
}
