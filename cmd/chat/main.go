package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/voicechat/internal/api"
	"github.com/vovakirdan/voicechat/internal/config"
	"github.com/vovakirdan/voicechat/internal/log"
	"github.com/vovakirdan/voicechat/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	baseURL    string
	logLevel   string
}

// env is what every subcommand needs: resolved config, a stderr logger and a client.
type env struct {
	cfg    config.ClientConfig
	logger *zerolog.Logger
	client *api.Client
	sess   *session.Session
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "voicechat",
		Short:         "Terminal client for voicechat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&flags.baseURL, "server", "", "server base URL")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error, off)")

	root.AddCommand(
		newRegisterCmd(flags),
		newLoginCmd(flags),
		newLogoutCmd(flags),
		newRoomsCmd(flags),
		newDMCmd(flags),
		newOpenCmd(flags),
		newSearchCmd(flags),
	)
	return root
}

// loadEnv resolves configuration. With requireSession it fails unless a saved
// session exists.
func loadEnv(flags *globalFlags, requireSession bool) (*env, error) {
	quiet := log.NewWithWriter(os.Stderr, "warn")
	cfg, _, err := config.Load(quiet, flags.configPath)
	if err != nil {
		return nil, err
	}
	override := config.Config{Client: config.ClientConfig{BaseURL: flags.baseURL, LogLevel: flags.logLevel}}
	cfg.UpdateFrom(override)

	e := &env{
		cfg:    cfg.Client,
		logger: log.NewWithWriter(os.Stderr, cfg.Client.LogLevel),
	}
	e.client = api.New(e.cfg.BaseURL, api.WithTimeout(e.cfg.RequestTimeout))

	sess, err := session.Load(e.cfg.SessionFile)
	switch {
	case err == nil:
		e.sess = sess
		e.client.SetSession(sess)
	case errors.Is(err, session.ErrNoSession):
		if requireSession {
			return nil, errors.New("not logged in; run `voicechat login` first")
		}
	default:
		return nil, err
	}
	return e, nil
}
