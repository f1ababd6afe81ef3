// Package cli implements the studio console commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"writecheck/internal/util"
	"writecheck/pkg/auth"
	"writecheck/pkg/domain"
	"writecheck/pkg/push"
	"writecheck/pkg/store"
	"writecheck/services/studio/internal/app"
	"writecheck/services/studio/internal/config"
	"writecheck/services/studio/internal/upload"
	"writecheck/services/studio/internal/writingclient"
)

type runtime struct {
	cfg     config.FileConfig
	app     *app.App
	session *auth.Session
	logger  *slog.Logger
	closers []func() error
}

func (r *runtime) close() {
	if r.app != nil {
		r.app.Close()
		r.app = nil
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Debug("close failed", "err", err)
		}
	}
	r.closers = nil
}

type rootFlags struct {
	configPath string
	token      string
}

// Execute runs the studio command line with args and releases everything the
// command opened, whether or not it succeeded.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root, rt := newRootCommand()
	defer rt.close()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCommand() (*cobra.Command, *runtime) {
	flags := &rootFlags{}
	rt := &runtime{}

	root := &cobra.Command{
		Use:           "studio",
		Short:         "Upload handwriting scans and review grammar corrections",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd.Context(), flags, rt, cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&flags.token, "token", "", "bearer token to use instead of the stored one")

	root.AddCommand(
		newLoginCommand(rt),
		newRegisterCommand(rt),
		newLogoutCommand(rt),
		newListCommand(rt),
		newShowCommand(rt),
		newUploadCommand(rt),
		newDeleteCommand(rt),
		newWatchCommand(rt),
		newCreditsCommand(rt),
	)
	return root, rt
}

func setup(ctx context.Context, flags *rootFlags, rt *runtime, progressOut io.Writer) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	rt.cfg = cfg
	rt.logger = util.InitLogger(cfg.LogLevel)

	tokenTTL, _ := config.ParseDuration(cfg.TokenTTL)
	var tokens store.TokenStore = store.NewMemoryTokenStore()
	if cfg.TokenStore == config.TokenStoreRedis {
		redisTokens, err := store.NewRedisTokenStore(cfg.RedisAddr, cfg.RedisPassword, cfg.TokenKey, tokenTTL)
		if err != nil {
			return fmt.Errorf("token store: %w", err)
		}
		rt.closers = append(rt.closers, redisTokens.Close)
		tokens = redisTokens
	}

	rt.session = auth.NewSession(tokens)
	if err := rt.session.Restore(ctx); err != nil {
		rt.logger.Warn("could not restore session", "err", err)
	}
	if tok := strings.TrimSpace(flags.token); tok != "" {
		if err := rt.session.SignIn(ctx, tok, domain.User{}); err != nil {
			return fmt.Errorf("use token: %w", err)
		}
	}

	transport, err := newTransport(cfg, rt)
	if err != nil {
		return err
	}
	timeout, _ := config.ParseDuration(cfg.HTTPTimeout)
	debounce, _ := config.ParseDuration(cfg.UsernameDebounce)

	rt.app, err = app.New(app.Config{
		API:                 writingclient.NewClient(cfg.APIBaseURL, rt.session, timeout),
		Session:             rt.session,
		Transport:           transport,
		PageSize:            cfg.PageSize,
		MaxUploadBytes:      cfg.MaxUploadBytes,
		AllowedContentTypes: cfg.AllowedContentTypes,
		UsernameDebounce:    debounce,
		UploadProgress: func(p upload.Progress) {
			fmt.Fprintf(progressOut, "Uploading %d of %d...\n", p.Current, p.Total)
		},
		Logger: rt.logger,
	})
	return err
}

func newTransport(cfg config.FileConfig, rt *runtime) (push.Transport, error) {
	if cfg.PushTransport == config.PushTransportRedis {
		tr, err := push.NewRedisTransport(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisChannelPrefix, rt.logger)
		if err != nil {
			return nil, fmt.Errorf("push transport: %w", err)
		}
		rt.closers = append(rt.closers, tr.Close)
		return tr, nil
	}
	cableURL, err := cfg.ResolvedCableURL()
	if err != nil {
		return nil, err
	}
	return push.NewCableTransport(push.CableConfig{URL: cableURL, Logger: rt.logger})
}
