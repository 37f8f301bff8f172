package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fxdesk/internal/desk"
	"fxdesk/internal/logger"
	"fxdesk/internal/signal"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

// Source 候选信号来源，Run 阻塞直到 ctx 结束或来源耗尽。
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- signal.Proposal) error
}

// Sink 接收信号的 desk 端口。
type Sink interface {
	Surface(ctx context.Context, p signal.Proposal) (signal.TradeSignal, error)
	RequestAnalysis(ctx context.Context, id string, opts desk.AnalysisOptions) (desk.Ticket, error)
}

type PumpOptions struct {
	// AutoAnalyze 信号入队后立即发起分析
	AutoAnalyze bool
	Buffer      int
}

// Pump 汇总所有来源，校验后送入 desk。
type Pump struct {
	sink     Sink
	sources  []Source
	opts     PumpOptions
	validate *validator.Validate
}

func NewPump(sink Sink, opts PumpOptions, sources ...Source) *Pump {
	if opts.Buffer <= 0 {
		opts.Buffer = 32
	}
	return &Pump{sink: sink, sources: sources, opts: opts, validate: validator.New()}
}

func (p *Pump) Run(ctx context.Context) error {
	if len(p.sources) == 0 {
		return nil
	}
	ch := make(chan signal.Proposal, p.opts.Buffer)
	g, gctx := errgroup.WithContext(ctx)
	var producers errgroup.Group
	for _, src := range p.sources {
		src := src
		producers.Go(func() error {
			logger.Infof("Feed: source %s started", src.Name())
			if err := src.Run(gctx, ch); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("feed source %s: %w", src.Name(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		err := producers.Wait()
		close(ch)
		return err
	})
	g.Go(func() error {
		for prop := range ch {
			p.accept(gctx, prop)
		}
		return nil
	})
	return g.Wait()
}

// accept 单条信号失败只记录日志，不影响后续信号。
func (p *Pump) accept(ctx context.Context, prop signal.Proposal) {
	if prop.Source == "" {
		prop.Source = signal.SourceFeed
	}
	if err := p.validate.StructCtx(ctx, prop); err != nil {
		logger.Warnf("Feed: dropped invalid proposal %s %s: %v", prop.Pair, prop.Direction, describe(err))
		return
	}
	sig, err := p.sink.Surface(ctx, prop)
	if err != nil {
		if errors.Is(err, desk.ErrDuplicateSignal) {
			logger.Debugf("Feed: proposal %s already surfaced", prop.ID)
			return
		}
		logger.Warnf("Feed: surface %s failed: %v", prop.Pair, err)
		return
	}
	if !p.opts.AutoAnalyze {
		return
	}
	if _, err := p.sink.RequestAnalysis(ctx, sig.ID, desk.AnalysisOptions{}); err != nil {
		logger.Warnf("Feed: auto analysis for %s failed: %v", sig.ID, err)
	}
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s:%s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ",")
}
