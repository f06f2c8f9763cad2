package usecase

import (
	"context"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/core/ports"
)

type nopObserver struct{}

func (nopObserver) ObserveTransition(domain.WorkflowStatus) {}

func (nopObserver) ObserveOCRPoll(string) {}

func (nopObserver) ObserveStorageEvent(string) {}

func observerOrNop(o ports.WorkflowObserver) ports.WorkflowObserver {
	if o == nil {
		return nopObserver{}
	}
	return o
}

type directRetrier struct{}

func (directRetrier) Do(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

func retrierOrDirect(r ports.Retrier) ports.Retrier {
	if r == nil {
		return directRetrier{}
	}
	return r
}
