package app

import (
	"context"
	"errors"
	"fmt"

	"fxdesk/internal/config"
	"fxdesk/internal/desk"
	"fxdesk/internal/feed"
	"fxdesk/internal/gateway/bus"
	"fxdesk/internal/logger"
	livehttp "fxdesk/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 desk、HTTP、信号源与通知转发。
type App struct {
	cfg       *config.Config
	desk      *desk.Desk
	http      *livehttp.Server
	pump      *feed.Pump
	forwarder *bus.Forwarder
	closers   []func() error
	Summary   *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 恢复状态后启动全部组件，ctx 取消时依次停止。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.desk == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print()
	}
	if err := a.desk.Recover(ctx); err != nil {
		return fmt.Errorf("desk recover failed: %w", err)
	}
	if a.forwarder != nil {
		a.forwarder.Open()
	}
	a.desk.Start()
	defer a.desk.Stop()

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	if a.forwarder != nil {
		group.Go(func() error { return a.forwarder.Run(ctx) })
	}
	if a.pump != nil {
		group.Go(func() error { return a.pump.Run(ctx) })
	}
	group.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return group.Wait()
}

// Start 仅恢复并启动 desk，供 CLI 单次分析使用。
func (a *App) Start(ctx context.Context) error {
	if err := a.desk.Recover(ctx); err != nil {
		return err
	}
	a.desk.Start()
	return nil
}

// Close 释放存储等资源，可重复调用。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.desk != nil {
		a.desk.Stop()
	}
	var errs []error
	if a.forwarder != nil {
		if err := a.forwarder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) Desk() *desk.Desk {
	if a == nil {
		return nil
	}
	return a.desk
}

func (a *App) HTTP() *livehttp.Server {
	if a == nil {
		return nil
	}
	return a.http
}
