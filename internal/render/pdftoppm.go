package render

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"

	"github.com/rotisserie/eris"
)

// Rasterizer renders one PDF page to a PNG file and returns its path.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string, page, dpi, maxPx int, outPrefix string) (string, error)
}

// Pdftoppm rasterizes pages with the poppler pdftoppm CLI tool.
type Pdftoppm struct {
	binPath string
}

// NewPdftoppm creates a Pdftoppm rasterizer. If binPath is empty, "pdftoppm" is used.
func NewPdftoppm(binPath string) *Pdftoppm {
	if binPath == "" {
		binPath = "pdftoppm"
	}
	return &Pdftoppm{binPath: binPath}
}

// Rasterize runs pdftoppm for a single page, scaled so its longest side is
// at most maxPx. The output is written to outPrefix + ".png".
func (p *Pdftoppm) Rasterize(ctx context.Context, pdfPath string, page, dpi, maxPx int, outPrefix string) (string, error) {
	args := []string{
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
	}
	if maxPx > 0 {
		args = append(args, "-scale-to", strconv.Itoa(maxPx))
	}
	args = append(args, "-singlefile", pdfPath, outPrefix)

	cmd := exec.CommandContext(ctx, p.binPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "render: pdftoppm failed for %s page %d: %s", pdfPath, page, stderr.String())
	}

	return outPrefix + ".png", nil
}
