package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/couchcryptid/watershed-rem/internal/domain"
	"github.com/couchcryptid/watershed-rem/internal/observability"
)

// Outcome says whether an invocation ran the generator.
type Outcome string

const (
	OutcomeComputed Outcome = "computed"
	OutcomeCached   Outcome = "cached"
)

// Invoker guards the REM generator with a fingerprint check: an output is
// reused only if it exists and the ledger shows it was produced from the
// same input bytes and parameters.
type Invoker struct {
	gen     Generator
	ledger  Ledger
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewInvoker(gen Generator, ledger Ledger, logger *slog.Logger, metrics *observability.Metrics) *Invoker {
	return &Invoker{gen: gen, ledger: ledger, logger: logger, metrics: metrics}
}

// Invoke runs job unless a matching output already exists.
func (i *Invoker) Invoke(ctx context.Context, job domain.REMJob) (Outcome, error) {
	fp, err := fingerprintFile(job.Input, job.Params)
	if err != nil {
		i.metrics.REMInvocations.WithLabelValues("error").Inc()
		return "", err
	}

	if !job.Override {
		fresh, err := i.upToDate(ctx, job.Output, fp)
		if err != nil {
			i.metrics.REMInvocations.WithLabelValues("error").Inc()
			return "", err
		}
		if fresh {
			i.logger.Info("rem up to date, skipping generator", "output", job.Output)
			i.metrics.REMInvocations.WithLabelValues(string(OutcomeCached)).Inc()
			return OutcomeCached, nil
		}
	}

	start := domain.Now()
	if err := i.gen.Generate(ctx, job); err != nil {
		i.metrics.REMInvocations.WithLabelValues("error").Inc()
		return "", err
	}
	if _, err := os.Stat(job.Output); err != nil {
		i.metrics.REMInvocations.WithLabelValues("error").Inc()
		return "", fmt.Errorf("rem generator produced no output at %s: %w", job.Output, err)
	}
	i.metrics.REMDuration.Observe(domain.Since(start).Seconds())

	entry := domain.LedgerEntry{
		OutputPath:  job.Output,
		Fingerprint: fp,
		Params:      job.Params,
		CreatedAt:   domain.Now(),
	}
	if err := i.ledger.Record(ctx, entry); err != nil {
		i.metrics.REMInvocations.WithLabelValues("error").Inc()
		return "", err
	}
	i.metrics.REMInvocations.WithLabelValues(string(OutcomeComputed)).Inc()
	return OutcomeComputed, nil
}

func (i *Invoker) upToDate(ctx context.Context, output, fp string) (bool, error) {
	if _, err := os.Stat(output); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	entry, ok, err := i.ledger.Lookup(ctx, output)
	if err != nil {
		return false, err
	}
	if !ok {
		i.logger.Info("rem output has no ledger entry, recomputing", "output", output)
		return false, nil
	}
	if entry.Fingerprint != fp {
		i.logger.Info("rem input or parameters changed, recomputing", "output", output)
		return false, nil
	}
	return true, nil
}

func fingerprintFile(path string, p domain.REMParams) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer f.Close()
	return domain.Fingerprint(f, p)
}

// REMJob builds the generator job for a site's clipped raster of src.
func REMJob(layout domain.Layout, site string, src domain.Source, params domain.REMParams, override bool) domain.REMJob {
	return domain.REMJob{
		Input:    layout.Clipped(site, src),
		OutDir:   layout.REMDir(site, src),
		Output:   layout.REMOutput(site, src),
		Viz:      layout.REMViz(site, src),
		Params:   params,
		Override: override,
	}
}
