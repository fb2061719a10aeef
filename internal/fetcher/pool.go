// Package fetcher downloads post media into a namespace's media directory
// with a bounded pool of workers.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	errs "clothscan/pkg/errors"
	"clothscan/pkg/logger"
	"clothscan/pkg/ratelimit"
	"clothscan/pkg/storage"
)

// Job is one media file to obtain
type Job struct {
	URL       string
	Namespace string
	// Ref is the media reference recorded on the record, e.g. media/ABC_0.jpg
	Ref string
	// Path is where the bytes are written
	Path string
}

// Result reports the outcome of a job. A failed job still carries its Ref.
type Result struct {
	Job      Job
	Skipped  bool
	Err      error
	Duration time.Duration
	Size     int64
}

// Downloader streams the bytes behind a media URL
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Pool runs download jobs on a fixed number of workers
type Pool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	client      Downloader
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
	stopOnce    sync.Once
}

// NewPool creates a pool bound to ctx; cancelling ctx stops the workers
func NewPool(ctx context.Context, numWorkers int, client Downloader, limiter ratelimit.Limiter, log logger.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		client:      client,
		rateLimiter: limiter,
		logger:      log,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.logger.DebugWithFields("Starting fetch pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop closes the queue, waits for queued jobs and closes Results
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobQueue)
		p.wg.Wait()
		close(p.resultQueue)
		p.cancel()
	})
}

// Submit queues a job, blocking while the queue is full
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobQueue <- job:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("fetch pool is shutting down: %w", p.ctx.Err())
	}
}

// Results returns the result channel; it is closed by Stop
func (p *Pool) Results() <-chan Result {
	return p.resultQueue
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		result := p.process(job)
		select {
		case p.resultQueue <- result:
		case <-p.ctx.Done():
			// drain so Stop never blocks on a full queue
			for range p.jobQueue {
			}
			return
		}
	}
}

func (p *Pool) process(job Job) Result {
	start := time.Now()
	result := Result{Job: job}

	if info, err := os.Stat(job.Path); err == nil && info.Size() > 0 {
		result.Skipped = true
		result.Size = info.Size()
		result.Duration = time.Since(start)
		logger.LogFetch(job.Namespace, job.Ref, true, nil)
		return result
	}

	if err := p.ctx.Err(); err != nil {
		result.Err = errs.FetchFailed(job.Ref, err)
		return result
	}

	if p.rateLimiter != nil {
		if err := p.rateLimiter.Wait(p.ctx); err != nil {
			result.Err = errs.FetchFailed(job.Ref, err)
			return result
		}
	}

	body, err := p.client.Download(p.ctx, job.URL)
	if err != nil {
		result.Err = errs.FetchFailed(job.Ref, err)
		result.Duration = time.Since(start)
		logger.LogFetch(job.Namespace, job.Ref, false, result.Err)
		return result
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(job.Path), 0755); err != nil {
		result.Err = errs.FetchFailed(job.Ref, err)
		return result
	}
	counter := &countingReader{r: body}
	if err := storage.WriteFileAtomic(job.Path, counter); err != nil {
		result.Err = errs.FetchFailed(job.Ref, err)
	}
	result.Size = counter.n
	result.Duration = time.Since(start)
	logger.LogFetch(job.Namespace, job.Ref, false, result.Err)
	return result
}

// FetchAll runs jobs to completion and returns their results in submit order
func FetchAll(ctx context.Context, jobs []Job, workers int, client Downloader, limiter ratelimit.Limiter, log logger.Logger) []Result {
	pool := NewPool(ctx, workers, client, limiter, log)
	pool.Start()

	index := make(map[string]int, len(jobs))
	for i, j := range jobs {
		index[j.Path] = i
	}

	go func() {
		defer pool.Stop()
		for _, j := range jobs {
			if err := pool.Submit(j); err != nil {
				return
			}
		}
	}()

	results := make([]Result, len(jobs))
	done := make([]bool, len(jobs))
	for r := range pool.Results() {
		i := index[r.Job.Path]
		results[i] = r
		done[i] = true
	}
	for i, ok := range done {
		if !ok {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			results[i] = Result{Job: jobs[i], Err: errs.FetchFailed(jobs[i].Ref, err)}
		}
	}
	return results
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
