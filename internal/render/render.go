// Package render opens drawing sets and rasterizes individual pages for the
// vision passes.
package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/takeoff-cli/internal/model"
	"github.com/sells-group/takeoff-cli/internal/resilience"
)

// Quality selects the raster size for a pass.
type Quality int

const (
	// QualityLow is used for the cheap relevance scan.
	QualityLow Quality = iota
	// QualityHigh is used for context, detail and extraction passes.
	QualityHigh
)

func (q Quality) String() string {
	if q == QualityHigh {
		return "high"
	}
	return "low"
}

// Options configures rasterization.
type Options struct {
	TempDir    string
	DPI        int
	LowMaxPx   int
	HighMaxPx  int
	Rasterizer Rasterizer
}

func (o Options) withDefaults() Options {
	if o.DPI <= 0 {
		o.DPI = 150
	}
	if o.LowMaxPx <= 0 {
		o.LowMaxPx = 1024
	}
	if o.HighMaxPx <= 0 {
		o.HighMaxPx = 1568
	}
	if o.Rasterizer == nil {
		o.Rasterizer = NewPdftoppm("")
	}
	return o
}

// Document is an opened drawing set. Rendered pages are memoized in a
// private temp directory that Close removes.
type Document struct {
	Path      string
	PageCount int
	SHA256    string
	SizeBytes int64

	opts  Options
	dir   string
	group singleflight.Group

	mu    sync.Mutex
	pages map[string]string
}

// Open validates the PDF, counts its pages and proves page 1 can be
// rasterized. Any failure is a *resilience.DocumentReadError.
func Open(ctx context.Context, path string, opts Options) (*Document, error) {
	opts = opts.withDefaults()

	count, sum, size, err := inspect(path)
	if err != nil {
		return nil, &resilience.DocumentReadError{Path: path, Err: err}
	}
	if count == 0 {
		return nil, &resilience.DocumentReadError{Path: path, Err: eris.New("render: document has no pages")}
	}

	dir, err := os.MkdirTemp(opts.TempDir, "takeoff-pages-*")
	if err != nil {
		return nil, &resilience.DocumentReadError{Path: path, Err: eris.Wrap(err, "render: create temp dir")}
	}

	d := &Document{
		Path:      path,
		PageCount: count,
		SHA256:    sum,
		SizeBytes: size,
		opts:      opts,
		dir:       dir,
		pages:     make(map[string]string),
	}

	if _, err := d.Page(ctx, 1, QualityLow); err != nil {
		_ = d.Close()
		return nil, &resilience.DocumentReadError{Path: path, Err: err}
	}

	zap.L().Debug("render: document opened",
		zap.String("path", path),
		zap.Int("pages", count),
		zap.String("temp_dir", dir),
	)
	return d, nil
}

func inspect(path string) (int, string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", 0, eris.Wrap(err, "render: open document")
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return 0, "", 0, eris.Wrap(err, "render: hash document")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, "", 0, eris.Wrap(err, "render: rewind document")
	}

	pdfCtx, err := api.ReadValidateAndOptimize(f, pdfmodel.NewDefaultConfiguration())
	if err != nil {
		return 0, "", 0, eris.Wrap(err, "render: read pdf")
	}
	return pdfCtx.PageCount, hex.EncodeToString(h.Sum(nil)), size, nil
}

// Ref describes the document for run bookkeeping.
func (d *Document) Ref() model.DocumentRef {
	return model.DocumentRef{
		Name:      filepath.Base(d.Path),
		Path:      d.Path,
		SHA256:    d.SHA256,
		SizeBytes: d.SizeBytes,
		PageCount: d.PageCount,
	}
}

// Page returns PNG bytes for page n (1-based). Concurrent requests for the
// same page and quality share one rasterization, which is not cancelled when
// the caller that started it gives up.
func (d *Document) Page(ctx context.Context, n int, q Quality) ([]byte, error) {
	if n < 1 || n > d.PageCount {
		return nil, eris.Errorf("render: page %d out of range 1..%d", n, d.PageCount)
	}
	key := fmt.Sprintf("p%04d-%s", n, q)

	d.mu.Lock()
	path, ok := d.pages[key]
	d.mu.Unlock()

	if !ok {
		// The shared rasterization outlives any one caller; each caller
		// still stops waiting when its own ctx ends.
		flightCtx := context.WithoutCancel(ctx)
		ch := d.group.DoChan(key, func() (any, error) {
			maxPx := d.opts.LowMaxPx
			if q == QualityHigh {
				maxPx = d.opts.HighMaxPx
			}
			out, err := d.opts.Rasterizer.Rasterize(flightCtx, d.Path, n, d.opts.DPI, maxPx, filepath.Join(d.dir, key))
			if err != nil {
				return "", err
			}
			d.mu.Lock()
			d.pages[key] = out
			d.mu.Unlock()
			return out, nil
		})
		select {
		case <-ctx.Done():
			return nil, eris.Wrapf(ctx.Err(), "render: page %d", n)
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			path = res.Val.(string)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "render: read page %d", n)
	}
	return data, nil
}

// Close removes every rendered page.
func (d *Document) Close() error {
	if d == nil || d.dir == "" {
		return nil
	}
	if err := os.RemoveAll(d.dir); err != nil {
		return eris.Wrap(err, "render: remove temp dir")
	}
	return nil
}
