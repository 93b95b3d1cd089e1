package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"k8s.io/klog/v2"

	"github.com/jetstack/sealer/internal/atomicfile"
	"github.com/jetstack/sealer/internal/envelope"
)

const (
	sealedExt      = ".sealed"
	outputFileMode = 0o600
)

type streamFunc func(ctx context.Context, w io.Writer, r io.Reader) error

// fileJobs pairs each input with its output. Without --output the name is
// derived from the input.
func fileJobs(args []string, output string, name func(string) (string, error)) ([]envelope.FileJob, error) {
	if output != "" && len(args) > 1 {
		return nil, errors.New("--output can only be used with a single input file")
	}

	jobs := make([]envelope.FileJob, 0, len(args))
	for _, src := range args {
		dst := output
		if dst == "" {
			var err error
			if dst, err = name(src); err != nil {
				return nil, err
			}
		}
		jobs = append(jobs, envelope.FileJob{Src: src, Dst: dst})
	}
	return jobs, nil
}

func sealedName(src string) (string, error) {
	return src + sealedExt, nil
}

func openedName(src string) (string, error) {
	dst, ok := strings.CutSuffix(src, sealedExt)
	if !ok || dst == "" {
		return "", fmt.Errorf("cannot derive an output name for %s, it does not end in %s; use --output", src, sealedExt)
	}
	return dst, nil
}

// isStdio reports whether the command reads standard input.
func isStdio(args []string) bool {
	return len(args) == 0 || (len(args) == 1 && args[0] == "-")
}

// streamStdio runs fn from r to stdout, or to output through an atomic file
// so that a failure leaves no partial output behind. Output already written to
// stdout cannot be taken back, so a failure after the first byte is logged.
func streamStdio(ctx context.Context, fn streamFunc, stdout io.Writer, r io.Reader, output string) error {
	if output == "" || output == "-" {
		cw := &countingWriter{w: stdout}
		err := fn(ctx, cw, r)
		if err != nil && cw.n > 0 {
			klog.FromContext(ctx).Info("Warning: incomplete output was written to stdout and must be discarded", "bytes", cw.n)
		}
		return err
	}

	f, err := atomicfile.Create(output, outputFileMode)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Discard(); err != nil {
			klog.FromContext(ctx).Error(err, "Failed to remove temporary file", "path", f.TempName())
		}
	}()

	if err := fn(ctx, f, r); err != nil {
		return err
	}
	return f.Commit()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
