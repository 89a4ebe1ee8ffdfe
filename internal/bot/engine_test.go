package bot

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"spottrader/pkg/utils"
)

type countingTicker struct {
	calls int32
	fail  error
	panic bool
}

func (c *countingTicker) Tick(ctx context.Context) error {
	atomic.AddInt32(&c.calls, 1)
	if c.panic {
		panic("boom")
	}
	return c.fail
}

func (c *countingTicker) count() int32 {
	return atomic.LoadInt32(&c.calls)
}

func TestEngine_LoopsSurviveErrorsAndPanics(t *testing.T) {
	ok := &countingTicker{}
	failing := &countingTicker{fail: errors.New("exchange down")}
	panicking := &countingTicker{panic: true}

	e := &Engine{
		loops: []loop{
			{name: "ok", interval: 5 * time.Millisecond, immediate: true, ticker: ok},
			{name: "failing", interval: 5 * time.Millisecond, ticker: failing},
			{name: "panicking", interval: 5 * time.Millisecond, ticker: panicking},
		},
		log: utils.L(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for ok.count() < 3 || failing.count() < 3 || panicking.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("циклы должны продолжать работу: ok=%d failing=%d panicking=%d",
				ok.count(), failing.count(), panicking.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ожидали context.Canceled, получили %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run должен завершиться после отмены контекста")
	}
}

func TestEngine_ImmediateFirstTick(t *testing.T) {
	gate := &countingTicker{}
	e := &Engine{
		loops: []loop{{name: "gate", interval: time.Hour, immediate: true, ticker: gate}},
		log:   utils.L(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for gate.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("первый тик фильтра должен быть сразу при старте")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestEngine_DisabledLoopIsSkipped(t *testing.T) {
	idle := &countingTicker{}
	e := &Engine{
		loops: []loop{{name: "profit", interval: 0, ticker: idle}},
		log:   utils.L(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = e.Run(ctx)

	if idle.count() != 0 {
		t.Error("цикл с нулевым интервалом не запускается")
	}
}
