package export

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/eventtide/pipeline/internal/config"
)

// publishQueueDepth bounds how many batches may wait for a worker. The
// producer blocks once it is full, which keeps memory flat while a slow
// endpoint drains the backlog.
const publishQueueDepth = 30

// Publisher posts event batches to the vendor endpoint from a fixed
// worker pool. Each worker holds an equal share of the global
// events-per-second cap, so the pool as a whole stays under the
// vendor's limit. The first worker error stops publishing; remaining
// queued batches are drained unsent so the producer never deadlocks.
type Publisher struct {
	endpoint    string
	apiKey      string
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	client      *http.Client

	queue chan []Event
	next  []Event
	wg    sync.WaitGroup

	mu  sync.Mutex
	err error

	stopOnce sync.Once
	stop     chan struct{}
}

// NewPublisher starts cfg.Workers publisher workers bound to ctx.
func NewPublisher(ctx context.Context, cfg config.ExportConfig, apiKey string) *Publisher {
	p := &Publisher{
		endpoint:    cfg.Endpoint,
		apiKey:      apiKey,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   time.Second,
		client:      &http.Client{Timeout: 30 * time.Second},
		queue:       make(chan []Event, publishQueueDepth),
		stop:        make(chan struct{}),
	}
	perWorker := rate.Limit(float64(cfg.MaxEventsPerSecond) / float64(cfg.Workers))
	for i := 0; i < cfg.Workers; i++ {
		limiter := rate.NewLimiter(perWorker, cfg.BatchSize)
		p.wg.Add(1)
		go p.worker(ctx, limiter)
	}
	return p
}

// Push adds one event to the outgoing stream, blocking when the queue
// is full. It returns the pool's failure as soon as any worker has
// exhausted its retries.
func (p *Publisher) Push(ctx context.Context, ev Event) error {
	if err := p.Err(); err != nil {
		return err
	}
	p.next = append(p.next, ev)
	if len(p.next) >= p.batchSize {
		return p.flush(ctx)
	}
	return nil
}

// Close flushes the final partial batch, waits for the workers to
// drain the queue, and returns the first worker error if any.
func (p *Publisher) Close(ctx context.Context) error {
	if len(p.next) > 0 {
		if err := p.flush(ctx); err != nil {
			p.Abort()
			return err
		}
	}
	close(p.queue)
	p.wg.Wait()
	return p.Err()
}

// Abort stops the workers without flushing and discards queued batches.
func (p *Publisher) Abort() {
	p.stopOnce.Do(func() { close(p.stop) })
	close(p.queue)
	p.wg.Wait()
}

// Err returns the first worker failure, if any.
func (p *Publisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Publisher) flush(ctx context.Context) error {
	batch := p.next
	p.next = nil
	select {
	case p.queue <- batch:
		return nil
	case <-p.stop:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Publisher) worker(ctx context.Context, limiter *rate.Limiter) {
	defer p.wg.Done()
	for batch := range p.queue {
		select {
		case <-p.stop:
			// Keep draining so the producer is never left blocked.
			continue
		default:
		}
		if err := limiter.WaitN(ctx, len(batch)); err != nil {
			p.fail(err)
			continue
		}
		if err := p.post(ctx, batch); err != nil {
			p.fail(err)
		}
	}
}

// post uploads one batch, retrying transient failures with exponential
// backoff. Exhausting the retry ceiling is fatal to the whole pool.
func (p *Publisher) post(ctx context.Context, batch []Event) error {
	encoded, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	form := url.Values{
		"api_key": {p.apiKey},
		"event":   {string(encoded)},
	}
	body := form.Encode()

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := p.client.Do(req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode < http.StatusMultipleChoices {
				return nil
			}
			err = fmt.Errorf("vendor returned %s", resp.Status)
		}

		if attempt >= p.maxAttempts-1 {
			return fmt.Errorf("giving up after %d attempts: %w", p.maxAttempts, err)
		}
		delay := p.baseDelay * (1 << attempt)
		log.Printf("publish failed (%v), retrying in %s", err, delay)
		select {
		case <-time.After(delay):
		case <-p.stop:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
