package stream

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/CrimsonAS/qcomponent/logging"
)

// Process is a Client talking to a child process over its stdin and
// stdout, such as qcomponentd -stdio.
type Process struct {
	*Client
	cmd *exec.Cmd
}

// Exec starts cmd with pipes on its stdin and stdout. The child's stderr
// is inherited unless cmd sets one.
func Exec(cmd *exec.Cmd) (*Process, error) {
	in, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stream.Exec: %w", err)
	}
	out, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stream.Exec: %w", err)
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("stream.Exec: %w", err)
	}

	c := NewConnSplit(in, out)
	c.SetLogger(logging.For("stream").With().Str("process", cmd.Path).Logger())
	return &Process{Client: NewClient(c), cmd: cmd}, nil
}

// Close closes the child's stdin, which asks it to exit, and waits for it.
func (p *Process) Close() error {
	cerr := p.Client.Close()
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("stream: process exited: %w", err)
	}
	return cerr
}
