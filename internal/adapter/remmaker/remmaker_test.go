package remmaker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// TestHelperProcess stands in for the REM generator when run as a subprocess.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	switch os.Getenv("HELPER_MODE") {
	case "fail":
		fmt.Fprintln(os.Stderr, "interpolation failed: too few points")
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}

	var outDir string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--out_dir" {
			outDir = args[i+1]
		}
	}
	input := args[len(args)-1]
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	_ = os.WriteFile(filepath.Join(outDir, stem+"_REM.tif"), []byte(strings.Join(args, " ")), 0o644)
	_ = os.WriteFile(filepath.Join(outDir, stem+"_REM_viz.png"), []byte("png"), 0o644)
	os.Exit(0)
}

func helperRunner(mode string, timeout time.Duration) *Runner {
	r := NewRunner([]string{os.Args[0], "-test.run=TestHelperProcess", "--"}, timeout,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return r.WithEnv("GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
}

func testJob(t *testing.T) domain.REMJob {
	dir := t.TempDir()
	return domain.REMJob{
		Input:  filepath.Join(dir, "HM_clipped_dtm.tif"),
		OutDir: filepath.Join(dir, "remmaker"),
		Params: domain.REMParams{InterpPoints: 1000, K: 100, Colormap: "mako_r"},
	}
}

func TestGenerate_WritesOutputs(t *testing.T) {
	job := testJob(t)

	require.NoError(t, helperRunner("", time.Minute).Generate(context.Background(), job))

	data, err := os.ReadFile(filepath.Join(job.OutDir, "HM_clipped_dtm_REM.tif"))
	require.NoError(t, err)
	assert.Equal(t, "--out_dir "+job.OutDir+" --interp_pts 1000 --k 100 --cmap mako_r "+job.Input, string(data))
	assert.FileExists(t, filepath.Join(job.OutDir, "HM_clipped_dtm_REM_viz.png"))
}

func TestGenerate_FailureIncludesOutput(t *testing.T) {
	err := helperRunner("fail", time.Minute).Generate(context.Background(), testJob(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "too few points")
	assert.Contains(t, err.Error(), "exit status 3")
}

func TestGenerate_Timeout(t *testing.T) {
	err := helperRunner("hang", 200*time.Millisecond).Generate(context.Background(), testJob(t))

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerate_NoCommand(t *testing.T) {
	r := NewRunner(nil, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, r.Generate(context.Background(), testJob(t)))
}

func TestArgs(t *testing.T) {
	job := domain.REMJob{Input: "in.tif", OutDir: "out", Params: domain.REMParams{InterpPoints: 10, K: 5, Colormap: "viridis"}}

	got := Args([]string{"-m", "riverrem.REMMaker"}, job)

	assert.Equal(t, []string{"-m", "riverrem.REMMaker", "--out_dir", "out", "--interp_pts", "10", "--k", "5", "--cmap", "viridis", "in.tif"}, got)
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("def"))
	assert.Equal(t, "cdef", string(b.Bytes()))
}
