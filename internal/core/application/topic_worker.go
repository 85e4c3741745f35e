package application

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

type topicJob func(ctx context.Context)

// topicWorker runs the jobs of a single topic one at a time, in the order
// they were enqueued. Stopping the worker cancels the context of the running
// job and discards the pending ones.
type topicWorker struct {
	topic  string
	ctx    context.Context
	cancel context.CancelFunc

	lock   *sync.Mutex
	jobs   []topicJob
	notify chan struct{}
	done   chan struct{}
}

func newTopicWorker(parent context.Context, topic string) *topicWorker {
	ctx, cancel := context.WithCancel(parent)
	return &topicWorker{
		topic:  topic,
		ctx:    ctx,
		cancel: cancel,
		lock:   &sync.Mutex{},
		jobs:   make([]topicJob, 0),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (w *topicWorker) start(wg *sync.WaitGroup) {
	log.Debugf("start worker for topic %s", w.topic)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(w.done)
		w.run()
	}()
}

func (w *topicWorker) run() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.notify:
		}

		for {
			job := w.pop()
			if job == nil {
				break
			}
			if w.ctx.Err() != nil {
				return
			}
			job(w.ctx)
		}
	}
}

// enqueue returns false if the worker was already stopped.
func (w *topicWorker) enqueue(job topicJob) bool {
	if w.ctx.Err() != nil {
		return false
	}

	w.lock.Lock()
	w.jobs = append(w.jobs, job)
	w.lock.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return true
}

func (w *topicWorker) pop() topicJob {
	w.lock.Lock()
	defer w.lock.Unlock()

	if len(w.jobs) <= 0 {
		return nil
	}
	job := w.jobs[0]
	w.jobs[0] = nil
	w.jobs = w.jobs[1:]
	return job
}

// stop cancels the worker and returns the number of discarded jobs.
func (w *topicWorker) stop() int {
	log.Debugf("stop worker for topic %s", w.topic)
	w.cancel()

	w.lock.Lock()
	defer w.lock.Unlock()
	discarded := len(w.jobs)
	w.jobs = nil
	return discarded
}

func (w *topicWorker) isStopped() bool {
	return w.ctx.Err() != nil
}
