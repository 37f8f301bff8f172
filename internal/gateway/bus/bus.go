package bus

import (
	"context"
	"errors"
	"sync"

	"fxdesk/internal/desk"
	"fxdesk/internal/logger"
)

// Publisher 把 desk 通知转发到外部通道（Kafka、Redis、Telegram）。
type Publisher interface {
	Name() string
	Publish(ctx context.Context, n desk.Notice) error
	Close() error
}

// Subscriber desk 通知源。
type Subscriber interface {
	Subscribe(buffer int) (<-chan desk.Notice, func())
}

// Forwarder 订阅 desk 通知并逐个交给所有 Publisher。
// 单个 Publisher 失败只记录日志。
type Forwarder struct {
	source     Subscriber
	publishers []Publisher
	buffer     int

	subOnce   sync.Once
	ch        <-chan desk.Notice
	cancel    func()
	closeOnce sync.Once
}

func NewForwarder(source Subscriber, buffer int, publishers ...Publisher) *Forwarder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Forwarder{source: source, publishers: publishers, buffer: buffer}
}

func (f *Forwarder) Len() int { return len(f.publishers) }

// Open 提前订阅，之后产生的通知都会被转发。Run 会自动调用。
func (f *Forwarder) Open() {
	f.subOnce.Do(func() {
		f.ch, f.cancel = f.source.Subscribe(f.buffer)
	})
}

// Run 阻塞直到 ctx 结束或通知源关闭。
func (f *Forwarder) Run(ctx context.Context) error {
	if len(f.publishers) == 0 {
		return nil
	}
	f.Open()
	ch := f.ch
	defer f.cancel()
	defer f.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			f.forward(ctx, n)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, n desk.Notice) {
	for _, p := range f.publishers {
		if err := p.Publish(ctx, n); err != nil {
			logger.Warnf("Bus: %s publish %s failed: %v", p.Name(), n.Type, err)
		}
	}
}

func (f *Forwarder) Close() error {
	var errs []error
	f.closeOnce.Do(func() {
		for _, p := range f.publishers {
			if err := p.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
