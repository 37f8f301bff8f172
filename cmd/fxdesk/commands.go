package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"fxdesk/internal/app"
	"fxdesk/internal/config"
	"fxdesk/internal/desk"
	"fxdesk/internal/logger"
	sig "fxdesk/internal/signal"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fxdesk",
		Short:         "fxdesk - multi-agent forex decision desk",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Configuration file path (default $FXDESK_CONFIG or configs/config.yaml)")
	root.AddCommand(newServeCmd(), newAnalyzeCmd(), newRiskCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the desk with its HTTP surface, feeds and notice publishers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cleanup, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			a, err := app.NewApp(cfg)
			if err != nil {
				return fmt.Errorf("初始化应用失败: %w", err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
}

func newAnalyzeCmd() *cobra.Command {
	var (
		direction   string
		entry       float64
		stop        float64
		take        float64
		engineMode  string
		date        string
		timeout     time.Duration
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "analyze PAIR",
		Short: "Surface a signal, run one analysis and show the consensus",
		Long: `Surface a trade signal for PAIR, run the multi-agent analysis and print the consensus.
Example: fxdesk analyze EURUSD --direction buy --entry 1.0850 --date 2025-03-14`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			a, err := app.NewApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := a.Start(ctx); err != nil {
				return err
			}
			d := a.Desk()
			surfaced, err := d.Surface(ctx, sig.Proposal{
				Pair:       args[0],
				Direction:  direction,
				EntryPrice: entry,
				StopLoss:   stop,
				TakeProfit: take,
				Source:     sig.SourceQuery,
			})
			if err != nil {
				return err
			}
			opts, err := analysisOptions(engineMode, date)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, subtleStyle.Render(fmt.Sprintf("分析 %s %s (signal %s)...", surfaced.Pair, surfaced.Direction, surfaced.ID)))
			wctx, wcancel := context.WithTimeout(ctx, timeout)
			defer wcancel()
			res, err := d.AnalyzeAndWait(wctx, surfaced.ID, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderSignal(res.Signal))
			if res.Position != nil {
				fmt.Fprintln(out, renderPositions("已开仓", []positionRow{rowOf(*res.Position)}))
			}
			if !interactive || res.Signal.State != sig.StateAnalyzed {
				return nil
			}
			return dispose(ctx, d, res.Signal, out)
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "buy", "Trade direction (buy|sell)")
	cmd.Flags().Float64Var(&entry, "entry", 0, "Entry price")
	cmd.Flags().Float64Var(&stop, "sl", 0, "Stop loss")
	cmd.Flags().Float64Var(&take, "tp", 0, "Take profit")
	cmd.Flags().StringVar(&engineMode, "mode", "", "Analysis depth (quick|deep), default from config")
	cmd.Flags().StringVar(&date, "date", "", "Analysis date in YYYY-MM-DD format (today if not provided)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum time to wait for the engine")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Prompt to approve or reject the analyzed signal")
	return cmd
}

func newRiskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "Show the risk snapshot and open positions from the local store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cleanup, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			a, err := app.NewApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			d := a.Desk()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderRisk(d.Risk()))
			rows := make([]positionRow, 0)
			for _, p := range d.Positions("open") {
				rows = append(rows, rowOf(p))
			}
			fmt.Fprintln(out, renderPositions("持仓", rows))
			fmt.Fprintln(out, renderPending(d.Signals()))
			return nil
		},
	}
}

func dispose(ctx context.Context, d *desk.Desk, s sig.TradeSignal, out io.Writer) error {
	choice, reason, err := promptDisposition(s)
	if err != nil {
		return err
	}
	switch choice {
	case choiceApprove:
		_, pos, err := d.Approve(ctx, s.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderPositions("已开仓", []positionRow{rowOf(pos)}))
	case choiceReject:
		rejected, err := d.Reject(ctx, s.ID, reason)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderSignal(rejected))
	default:
		fmt.Fprintln(out, subtleStyle.Render("信号保持待处置"))
	}
	return nil
}

// loadConfig 解析配置路径并初始化日志输出。返回的 cleanup 关闭日志文件。
func loadConfig(cmd *cobra.Command) (*config.Config, func(), error) {
	path, _ := cmd.Flags().GetString("config")
	if strings.TrimSpace(path) == "" {
		path = os.Getenv("FXDESK_CONFIG")
	}
	if strings.TrimSpace(path) == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置失败: %w", err)
	}
	var files []*os.File
	cleanup := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	logFile, err := openLogFile(cfg.App.LogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	if logFile != nil {
		files = append(files, logFile)
		mw := io.MultiWriter(os.Stdout, logFile)
		log.SetOutput(mw)
		logger.SetOutput(mw)
	}
	if cfg.App.EngineDump {
		f, err := openLogFile(cfg.App.EngineLogPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("初始化引擎日志失败: %w", err)
		}
		if f != nil {
			files = append(files, f)
			logger.SetPayloadWriter(f)
		}
	}
	logger.EnablePayloadDump(cfg.App.EngineDump)
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，配置=%s）", cfg.App.Env, path)
	return cfg, cleanup, nil
}

func openLogFile(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if dir := filepath.Dir(trimmed); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
