package routes

import (
	"context"

	"github.com/mail-cci/spamassassin/internal/bayes"
	"github.com/mail-cci/spamassassin/internal/daemon"
	"github.com/mail-cci/spamassassin/internal/message"
)

// AdminDeps bundles the C2/C4/C6 handles the admin API needs: reloading
// the compiled ruleset, learning/forgetting a Bayes corpus message, and
// reporting the prefork pool's live state. A zero-value AdminDeps disables
// the corresponding routes (they answer 503) rather than panicking, so a
// CLI-only build (no daemon) can still mount the rest of the admin API.
type AdminDeps struct {
	// Reload re-reads rule configuration from disk and atomically swaps
	// the engine the daemon's workers classify against (§4.2).
	Reload func() error

	// Bayes is the C4 classifier store; nil disables /learn and /forget.
	Bayes *bayes.Filter

	// Pool is the C6 prefork scheduler; nil disables /pool.
	Pool *daemon.Pool
}

// learnRequest is the admin API's learn/forget payload: a raw RFC 822
// message plus its message-id for the seen-store idempotence check (§4.4).
type learnRequest struct {
	MessageID string `json:"message_id"`
	Raw       string `json:"raw"`
}

func (d AdminDeps) learnMessage(ctx context.Context, req learnRequest, isSpam bool) error {
	msg := message.Parse([]byte(req.Raw))
	return d.Bayes.Learn(ctx, req.MessageID, isSpam, msg)
}

func (d AdminDeps) forgetMessage(ctx context.Context, req learnRequest) error {
	msg := message.Parse([]byte(req.Raw))
	return d.Bayes.Forget(ctx, req.MessageID, msg)
}
