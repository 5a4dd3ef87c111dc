package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook defines lifecycle hooks around message handling.
// Returning a non-nil error from BeforeHandle skips the handler and counts
// as a failed attempt.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message) (context.Context, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, err error)
}

// NoopHook is a default hook that does nothing.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, _ kafka.Message) (context.Context, error) {
	return ctx, nil
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, error) {}

func (NoopHook) OnError(context.Context, string, kafka.Message, error) {}

// HookError represents an error produced by a hook.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *HookError) Unwrap() error { return e.Err }

// HookFuncs adapts plain functions to ConsumerHook. Nil functions are no-ops.
type HookFuncs struct {
	Before func(context.Context, string, kafka.Message) (context.Context, error)
	After  func(context.Context, string, kafka.Message, error)
	Err    func(context.Context, string, kafka.Message, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, topic string, km kafka.Message) (context.Context, error) {
	if h.Before == nil {
		return ctx, nil
	}
	return h.Before(ctx, topic, km)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, km kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, topic, km, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, topic string, km kafka.Message, err error) {
	if h.Err != nil {
		h.Err(ctx, topic, km, err)
	}
}

// safeBefore runs BeforeHandle and turns a panic into a HookError.
func safeBefore(h ConsumerHook, ctx context.Context, topic string, km kafka.Message) (out context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = ctx, &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("hook panic: %v", r)}
		}
	}()
	return h.BeforeHandle(ctx, topic, km)
}

func safeAfter(h ConsumerHook, ctx context.Context, topic string, km kafka.Message, err error) {
	defer func() { _ = recover() }()
	h.AfterHandle(ctx, topic, km, err)
}

func safeOnError(h ConsumerHook, ctx context.Context, topic string, km kafka.Message, err error) {
	defer func() { _ = recover() }()
	h.OnError(ctx, topic, km, err)
}
