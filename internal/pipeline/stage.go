package pipeline

import (
	"context"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff-cli/internal/batch"
	"github.com/sells-group/takeoff-cli/internal/inference"
	"github.com/sells-group/takeoff-cli/internal/metrics"
	"github.com/sells-group/takeoff-cli/internal/model"
	"github.com/sells-group/takeoff-cli/internal/render"
)

const pngMediaType = "image/png"

// PageSource renders a page of the document being processed.
// *render.Document satisfies it.
type PageSource interface {
	Page(ctx context.Context, n int, q render.Quality) ([]byte, error)
}

// Stage bundles what an inference-backed stage needs: the client, the
// rendered pages, the executor settings and the model options for its pass.
type Stage struct {
	Infer   inference.Infer
	Pages   PageSource
	Batch   batch.Config
	Options inference.Options
	Metrics *metrics.Metrics
}

// runTasks drives tasks through the batch executor with the stage's settings.
func runTasks[T any](ctx context.Context, st Stage, tasks []batch.Task[T]) []batch.Outcome[T] {
	return batch.Run(ctx, st.Batch, tasks, batch.WithMetrics(st.Metrics))
}

// usageMeter sums token usage across concurrent tasks, including calls
// whose result was later discarded.
type usageMeter struct {
	mu    sync.Mutex
	usage model.TokenUsage
}

func (u *usageMeter) add(t model.TokenUsage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.Add(t)
}

func (u *usageMeter) total() model.TokenUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}

// inferPage renders page n at quality q and sends it with prompt.
func inferPage(ctx context.Context, st Stage, meter *usageMeter, pass inference.Pass, n int, q render.Quality, system, prompt string) (*inference.Result, error) {
	img, err := st.Pages.Page(ctx, n, q)
	if err != nil {
		return nil, err
	}
	return infer(ctx, st, meter, inference.Request{
		Pass:      pass,
		Image:     img,
		MediaType: pngMediaType,
		System:    system,
		Prompt:    prompt,
		Options:   st.Options,
	})
}

func infer(ctx context.Context, st Stage, meter *usageMeter, req inference.Request) (*inference.Result, error) {
	res, err := st.Infer.Infer(ctx, req)
	if err != nil {
		return nil, err
	}
	meter.add(res.Usage)
	return res, nil
}

// decodePage runs inferPage and decodes the response into T. An empty or
// unparseable response comes back as a malformed-response error so the
// executor skips retries and uses the fallback.
func decodePage[T any](ctx context.Context, st Stage, meter *usageMeter, pass inference.Pass, n int, q render.Quality, system, prompt string) (T, error) {
	var zero T
	res, err := inferPage(ctx, st, meter, pass, n, q, system, prompt)
	if err != nil {
		return zero, err
	}
	out, err := inference.Decode[T](res)
	if err != nil {
		return zero, eris.Wrapf(err, "pipeline: %s page %d", pass, n)
	}
	return out, nil
}

func pageKey(n int) string {
	return "page-" + strconv.Itoa(n)
}

// countFallbacks reports how many outcomes used their fallback.
func countFallbacks[T any](outcomes []batch.Outcome[T]) int {
	n := 0
	for _, o := range outcomes {
		if o.FellBack {
			n++
		}
	}
	return n
}
