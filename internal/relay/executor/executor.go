// Package executor runs automation commands through osascript.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/autopeer-io/msgrelay/internal/relay/queue"
	"github.com/autopeer-io/msgrelay/pkg/log"
	"github.com/autopeer-io/msgrelay/pkg/options"
)

// PingScript asks the messaging application for its name. It fails when
// automation permission is missing.
const PingScript = `tell application "Messages" to get name`

// runFunc executes script source and returns its standard output.
type runFunc func(ctx context.Context, script string) (string, error)

// Executor renders queue payloads into AppleScript and runs them.
type Executor struct {
	catalog *Catalog
	timeout time.Duration
	run     runFunc
	log     log.Logger
}

var _ queue.Executor = (*Executor)(nil)

// New builds an Executor from opts. An empty TemplateDir selects the built-in catalog.
func New(opts *options.ExecutorOptions) (*Executor, error) {
	var (
		catalog *Catalog
		err     error
	)
	if opts.TemplateDir != "" {
		catalog, err = LoadCatalog(os.DirFS(opts.TemplateDir))
	} else {
		catalog, err = BuiltinCatalog()
	}
	if err != nil {
		return nil, fmt.Errorf("load script catalog: %w", err)
	}

	return &Executor{
		catalog: catalog,
		timeout: opts.Timeout,
		run:     osascript(opts.Osascript),
		log:     log.WithName("executor"),
	}, nil
}

// Execute runs one attempt. Inline scripts are run as given; template
// payloads are rendered from the catalog first.
func (e *Executor) Execute(ctx context.Context, req *queue.Request) (queue.Result, error) {
	script := req.Payload.Script
	if !req.Payload.Immediate() {
		var err error
		script, err = e.catalog.Render(req.Payload.Template, req.Payload.Params)
		if err != nil {
			return queue.Result{}, err
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.log.Debug("Running script", "id", req.Label, "template", req.Payload.Template, "attempt", req.Attempt)
	out, err := e.run(ctx, script)
	if err != nil {
		return queue.Result{}, err
	}
	return queue.Result{Output: out}, nil
}

func osascript(binary string) runFunc {
	return func(ctx context.Context, script string) (string, error) {
		cmd := exec.CommandContext(ctx, binary, "-")
		cmd.Stdin = strings.NewReader(script)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return "", fmt.Errorf("osascript: %w: %s", err, msg)
			}
			return "", fmt.Errorf("osascript: %w", err)
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}
