package envelope

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/jetstack/sealer/internal/atomicfile"
	"github.com/jetstack/sealer/pkg/logs"
)

// outputFileMode is used for both envelopes and recovered plaintexts.
const outputFileMode = 0o600

// FileJob names one input file and the output it should be written to.
type FileJob struct {
	Src string
	Dst string
}

type streamFunc func(ctx context.Context, w io.Writer, r io.Reader) error

// EncryptFile encrypts src as a chunked stream into dst. The output appears at dst only if encryption completes;
// otherwise nothing is written there.
func (e *Encryptor) EncryptFile(ctx context.Context, dst, src string) error {
	return transformFile(ctx, dst, src, e.EncryptStream)
}

// DecryptFile decrypts the chunked stream in src into dst. The plaintext appears at dst only if every chunk
// verifies; a truncated or tampered input leaves no output file.
func (d *Decryptor) DecryptFile(ctx context.Context, dst, src string) error {
	return transformFile(ctx, dst, src, d.DecryptStream)
}

// EncryptFiles runs EncryptFile for every job with at most parallelism jobs in flight. A parallelism below one uses
// one job per CPU. The first failure cancels the remaining jobs; outputs of jobs that did not finish are discarded.
func (e *Encryptor) EncryptFiles(ctx context.Context, jobs []FileJob, parallelism int) error {
	return runFileJobs(ctx, jobs, parallelism, e.EncryptFile)
}

// DecryptFiles is the batch counterpart of DecryptFile. See EncryptFiles.
func (d *Decryptor) DecryptFiles(ctx context.Context, jobs []FileJob, parallelism int) error {
	return runFileJobs(ctx, jobs, parallelism, d.DecryptFile)
}

func transformFile(ctx context.Context, dst, src string, fn streamFunc) error {
	log := klog.FromContext(ctx).WithName("envelope").WithValues("src", src, "dst", dst)

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer in.Close()

	out, err := atomicfile.Create(dst, outputFileMode)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Discard(); err != nil {
			log.Error(err, "Failed to remove temporary output")
		}
	}()

	if err := fn(ctx, out, in); err != nil {
		return err
	}

	if err := out.Commit(); err != nil {
		return err
	}

	log.V(logs.Debug).Info("Wrote output file")
	return nil
}

func runFileJobs(ctx context.Context, jobs []FileJob, parallelism int, fn func(ctx context.Context, dst, src string) error) error {
	if parallelism < 1 {
		parallelism = runtime.NumCPU()
	}

	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if job.Src == "" || job.Dst == "" {
			return fmt.Errorf("file job needs both a source and a destination, got %q -> %q", job.Src, job.Dst)
		}
		dst := filepath.Clean(job.Dst)
		if _, ok := seen[dst]; ok {
			return fmt.Errorf("more than one job writes to %s", job.Dst)
		}
		seen[dst] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, job := range jobs {
		g.Go(func() error {
			if err := fn(gctx, job.Dst, job.Src); err != nil {
				return fmt.Errorf("%s: %w", job.Src, err)
			}
			return nil
		})
	}

	return g.Wait()
}
