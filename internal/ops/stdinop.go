package ops

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/rgthelen/alp/pkg/schema"
)

// StdinOps returns the gated standard-input pack.
func StdinOps() []Op {
	return []Op{
		NewHandler("read_stdin", "read standard input up to the configured byte cap", opReadStdin),
	}
}

func opReadStdin(_ context.Context, a map[string]any, rt *Runtime) (any, error) {
	maxBytes, err := rt.Gate.AllowStdin()
	if err != nil {
		return nil, err
	}
	if override := intParam(a, "max_bytes", 0); override > 0 && int64(override) < maxBytes {
		maxBytes = int64(override)
	}
	if maxBytes <= 0 {
		maxBytes = 1_000_000
	}

	in := rt.Stdin
	if in == nil {
		in = os.Stdin
	}

	if stringParam(a, "mode", "all") == "line" {
		line, readErr := bufio.NewReaderSize(in, 64*1024).ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, schema.NewErrorf(schema.ErrIO, "read_stdin: %v", readErr).WithCause(readErr)
		}
		if int64(len(line)) > maxBytes {
			line = line[:maxBytes]
		}
		return map[string]any{"text": line}, nil
	}

	data, readErr := io.ReadAll(io.LimitReader(in, maxBytes))
	if readErr != nil {
		return nil, schema.NewErrorf(schema.ErrIO, "read_stdin: %v", readErr).WithCause(readErr)
	}
	return map[string]any{"text": string(data)}, nil
}
