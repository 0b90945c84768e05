package worker

import (
	"context"
	"fmt"
)

// Deferral 是事件任务的完成句柄，宿主在 Wait 返回前不得推进到下一阶段。
type Deferral[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// spawn 在独立 goroutine 中执行 fn，panic 转为错误返回。
func spawn[T any](fn func() (T, error)) *Deferral[T] {
	d := &Deferral[T]{done: make(chan struct{})}
	go func() {
		defer close(d.done)
		defer func() {
			if r := recover(); r != nil {
				d.err = fmt.Errorf("worker task panic: %v", r)
			}
		}()
		d.value, d.err = fn()
	}()
	return d
}

// settled 返回一个已完成的句柄。
func settled[T any](value T, err error) *Deferral[T] {
	d := &Deferral[T]{done: make(chan struct{}), value: value, err: err}
	close(d.done)
	return d
}

// Done 在任务结束后关闭。
func (d *Deferral[T]) Done() <-chan struct{} {
	return d.done
}

// Wait 等待任务完成；ctx 取消只结束等待，不会中断任务本身。
func (d *Deferral[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
