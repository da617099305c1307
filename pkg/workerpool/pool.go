package workerpool

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task は並列実行される処理単位です
type Task func(ctx context.Context) error

// Pool は同時実行数を制限した並列実行を提供します。
// インデックス処理の並列ステージと検索のファンアウトの両方で共用します。
type Pool struct {
	maxConcurrency int
	taskTimeout    time.Duration
}

// New は新しいPoolを作成します。maxConcurrency が 1 未満の場合は 1 に
// 切り上げ、taskTimeout が 0 の場合はタスク単位のタイムアウトを設けません。
func New(maxConcurrency int, taskTimeout time.Duration) *Pool {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Pool{
		maxConcurrency: maxConcurrency,
		taskTimeout:    taskTimeout,
	}
}

// Run は全タスクを実行して合流し、タスクごとのエラーを同じ順序で返します。
// 1つのタスクの失敗は他のタスクを中断しません（失敗の分離）。親コンテキスト
// がキャンセルされた場合、未開始のタスクはコンテキストエラーで打ち切られます。
func (p *Pool) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))

	g := new(errgroup.Group)
	g.SetLimit(p.maxConcurrency)

	for i, task := range tasks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}

			taskCtx := ctx
			if p.taskTimeout > 0 {
				var cancel context.CancelFunc
				taskCtx, cancel = context.WithTimeout(ctx, p.taskTimeout)
				defer cancel()
			}

			errs[i] = task(taskCtx)
			return nil
		})
	}

	// タスクのエラーはerrsに集約するため、Waitのエラーは常にnil
	_ = g.Wait()

	return errs
}
