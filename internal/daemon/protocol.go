package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineSize bounds one protocol line in either direction.
const maxLineSize = 16 * 1024 * 1024

// Request is one invocation sent to the worker.
type Request struct {
	ID   int64    `json:"id"`
	Args []string `json:"args"`
}

// Reply is the worker's answer to one Request.
type Reply struct {
	ID     int64  `json:"id"`
	Exit   int    `json:"exit"`
	Output string `json:"output,omitempty"`
}

// Handler runs one invocation on the worker side.
type Handler func(ctx context.Context, args []string) (exit int, output string)

// Serve implements the worker side of the protocol: it reads requests from r,
// runs handler for each and writes replies to w, until r reaches EOF or ctx
// is done.
func Serve(ctx context.Context, r io.Reader, w io.Writer, handler Handler) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	enc := json.NewEncoder(w)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return fmt.Errorf("decode request: %w", err)
		}
		exit, output := handler(ctx, req.Args)
		if err := enc.Encode(Reply{ID: req.ID, Exit: exit, Output: output}); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
	return sc.Err()
}
