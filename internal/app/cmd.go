package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

const appName = "hirely"

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// サブコマンドを省略した場合はserveとして動く。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMで停止処理に入る。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand はserve・worker・migrate・healthcheckを持つルートコマンドを生成する。
// ログと使用方法の出力先はwになる。
func NewRootCommand(w io.Writer) *cobra.Command {
	var configFile string

	// start は設定を読み込んでから起動モードを実行する。
	start := func(cmd *cobra.Command, mode Command) error {
		cfg, err := initWithFile(w, configFile)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}

		slog.Info("starting application",
			slog.String("command", string(mode)),
			slog.String("env", cfg.AppEnv),
			slog.String("port", cfg.ServerPort),
		)

		switch mode {
		case CommandWorker:
			return runWorker(cmd.Context(), cfg)
		case CommandMigrate:
			return runMigrate(cfg)
		default:
			return runServe(cmd.Context(), cfg)
		}
	}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Hirely API: mock interview recordings and AI feedback",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return start(cmd, CommandServe)
		},
	}
	root.SetOut(w)
	root.SetErr(w)
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (overrides CONFIG_FILE; environment variables still take precedence)")

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "Run the HTTP API server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return start(cmd, CommandServe)
			},
		},
		&cobra.Command{
			Use:   string(CommandWorker),
			Short: "Recover stalled analyses and process re-dispatched ones",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return start(cmd, CommandWorker)
			},
		},
		&cobra.Command{
			Use:   string(CommandMigrate),
			Short: "Apply pending database migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return start(cmd, CommandMigrate)
			},
		},
		newHealthcheckCommand(),
	)

	return root
}

// newHealthcheckCommand はhealthcheckサブコマンドを生成する。
// 軽量サブコマンドのため、設定読み込みなどのフル初期化をスキップする。
func newHealthcheckCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe GET /health on the local API server",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runHealthcheck(port)
		},
	}

	defaultPort := os.Getenv("SERVER_PORT")
	if defaultPort == "" {
		defaultPort = "8080"
	}
	cmd.Flags().StringVar(&port, "port", defaultPort, "API server port")
	return cmd
}
