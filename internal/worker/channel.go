package worker

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// workChannel は複数の送信者と複数のワーカーが共有する FIFO キュー
// capacity が 0 の場合は無制限
type workChannel struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items        []workItem
	capacity     int
	receivers    int
	senderClosed bool
}

func newWorkChannel(capacity int) *workChannel {
	if capacity < 0 {
		capacity = 0
	}
	c := &workChannel{capacity: capacity}
	c.notEmpty = sync.NewCond(&c.mu)
	c.notFull = sync.NewCond(&c.mu)
	return c
}

// send はアイテムを末尾に追加する
// 容量制限付きの場合は空きが出るか ctx が終了するまで待つ
func (c *workChannel) send(ctx context.Context, item workItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity > 0 && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			c.mu.Lock()
			c.notFull.Broadcast()
			c.mu.Unlock()
		})
		defer stop()
	}

	for {
		if c.senderClosed || c.receivers == 0 {
			return ErrChannelClosed
		}
		if c.capacity == 0 || len(c.items) < c.capacity {
			break
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "waiting for queue space")
		}
		c.notFull.Wait()
	}

	c.items = append(c.items, item)
	c.notEmpty.Signal()
	return nil
}

// recv は次のアイテムが届くまでブロックする
// ロックは受信の間だけ保持し、タスク実行前に解放される
func (c *workChannel) recv() (workItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.items) == 0 {
		if c.senderClosed {
			return workItem{}, ErrChannelBroken
		}
		c.notEmpty.Wait()
	}

	item := c.items[0]
	c.items[0] = workItem{}
	c.items = c.items[1:]
	if len(c.items) == 0 {
		c.items = nil
	}
	if c.capacity > 0 {
		c.notFull.Signal()
	}
	return item, nil
}

func (c *workChannel) addReceiver() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivers++
}

// dropReceiver は受信者を減らす。最後の受信者が抜けると待機中の送信者を起こす
func (c *workChannel) dropReceiver() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivers--
	if c.receivers == 0 {
		c.notFull.Broadcast()
	}
}

// closeSender は送信側を閉じる。残ったアイテムは引き続き受信できる
func (c *workChannel) closeSender() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senderClosed = true
	c.notEmpty.Broadcast()
	c.notFull.Broadcast()
}

// discardTasks は残ったタスクを破棄し、その数を返す
func (c *workChannel) discardTasks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, item := range c.items {
		if item.kind == itemTask {
			n++
		}
	}
	c.items = nil
	return n
}

func (c *workChannel) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *workChannel) receiverCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receivers
}
