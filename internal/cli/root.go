// Package cli implements transferctl, the command-line client of the
// transfer server.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-file-transfer/internal/client"
	"go-file-transfer/internal/logger"
)

// cliContext is shared by every command of one invocation. settings and api
// are filled in before a command runs.
type cliContext struct {
	v        *viper.Viper
	cfgFile  string
	settings Settings
	api      *client.Client
	log      *slog.Logger
}

// NewRootCmd builds the transferctl command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&cliContext{v: newViper()})
}

func newRootCmd(cc *cliContext) *cobra.Command {
	root := &cobra.Command{
		Use:   "transferctl",
		Short: "Resumable uploads and task control for a transfer server",
		Long: `transferctl uploads files and directories in resumable chunks and
controls the server's long-running tasks.

Settings come from flags, TRANSFER_* environment variables (for example
TRANSFER_SERVER, TRANSFER_TOKEN) and an optional transferctl.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cc.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&cc.cfgFile, "config", "c", "", "config file (default transferctl.yaml in the user config dir or .)")
	flags.String("server", "", "server base URL")
	flags.String("token", "", "bearer token")
	flags.String("journal", "", "upload journal database path")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.Duration("upload-timeout", 0, "timeout of a single upload request")

	root.AddCommand(
		newUploadCmd(cc),
		newTasksCmd(cc),
		newControlCmd(cc, "pause", "Pause running tasks"),
		newControlCmd(cc, "resume", "Resume paused tasks"),
		newControlCmd(cc, "cancel", "Cancel tasks"),
		newControlCmd(cc, "remove", "Remove finished tasks"),
		newClearCmd(cc, false),
		newClearCmd(cc, true),
		newRetryCmd(cc),
		newOpCmd(cc),
	)
	return root
}

func (cc *cliContext) init(cmd *cobra.Command) error {
	if err := cc.v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}
	if err := cc.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := readConfigFile(cc.v, cc.cfgFile); err != nil {
		return err
	}

	settings, err := loadSettings(cc.v)
	if err != nil {
		return err
	}
	cc.settings = settings

	cc.log = logger.New(cmd.ErrOrStderr(), settings.LogLevel, "pretty")
	slog.SetDefault(cc.log)

	api, err := client.New(client.Config{
		BaseURL:       settings.Server,
		Token:         settings.Token,
		UploadTimeout: settings.UploadTimeout,
		Logger:        cc.log,
	})
	if err != nil {
		return err
	}
	cc.api = api
	return nil
}
