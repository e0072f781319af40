// Command spamc is a minimal wire-protocol client for cmd/spamd (§4.7),
// grounded on the pack's own spamd clients
// (other_examples/cgt-spamc__spamc.go, other_examples/marcocarpani-spamc__client.go).
// It reads one message from stdin, sends it with the requested verb, and
// prints the response to stdout.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/mail-cci/spamassassin/internal/protocol"
)

func main() {
	addr := flag.String("d", "127.0.0.1:783", "spamd address (host:port)")
	verb := flag.String("verb", "CHECK", "CHECK, SYMBOLS, REPORT, REPORT_IFSPAM or PROCESS")
	user := flag.String("u", "", "apply this user's preferences")
	timeout := flag.Duration("timeout", 30*time.Second, "connection timeout")
	flag.Parse()

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spamc: reading stdin: %v\n", err)
		os.Exit(1)
	}

	conn, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spamc: connecting to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	headers := map[string]string{}
	if *user != "" {
		headers["User"] = *user
	}

	if err := protocol.WriteRequest(conn, protocol.Verb(*verb), body, headers); err != nil {
		fmt.Fprintf(os.Stderr, "spamc: writing request: %v\n", err)
		os.Exit(1)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}

	resp, err := protocol.ReadResponse(bufio.NewReader(conn))
	if err != nil {
		fmt.Fprintf(os.Stderr, "spamc: reading response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Spam: %v ; %.1f / %.1f\n", resp.Spam, resp.Score, resp.Threshold)
	if resp.HasBody {
		os.Stdout.Write(resp.Body)
	}

	if resp.Code != protocol.ExOK {
		os.Exit(int(resp.Code))
	}
	if resp.Spam {
		os.Exit(1)
	}
}
