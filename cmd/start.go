package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode"

	"github.com/dimiro1/banner"
	"github.com/mattn/go-colorable"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/open-feature/flagwatch/pkg/eval"
	"github.com/open-feature/flagwatch/pkg/provider"
	"github.com/open-feature/flagwatch/pkg/runtime"
	"github.com/open-feature/flagwatch/pkg/service"
	"github.com/open-feature/flagwatch/pkg/store"
	"github.com/open-feature/flagwatch/pkg/watch"
)

const (
	logLevelFlagName          = "log-level"
	logFormatFlagName         = "log-format"
	portFlagName              = "port"
	providerFlagName          = "provider"
	uriFlagName               = "uri"
	relayBaseURLFlagName      = "relay-base-url"
	apiKeyFlagName            = "api-key"
	refreshIntervalFlagName   = "refresh-interval"
	corsOriginsFlagName       = "cors-origins"
	metricsFlagName           = "metrics"
	maxConnectionTimeFlagName = "watch-max-connection-time"
	pingSecondsFlagName       = "watch-ping-seconds"
	tickFlagName              = "watch-tick"
	handshakeTimeoutFlagName  = "watch-handshake-timeout"
)

const startBanner = `
   __ _                             _       _
  / _| | __ _  __ ___      ____ _ _| |_ ___| |__
 | |_| |/ _' |/ _' \ \ /\ / / _' |_   _/ __| '_ \
 |  _| | (_| | (_| |\ V  V / (_| | | || (__| | | |
 |_| |_|\__,_|\__, | \_/\_/ \__,_| |_| \___|_| |_|
              |___/
`

// stringList flattens comma separated entries. Environment variables reach
// viper as a single string that it only splits on whitespace.
func stringList(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		})...)
	}
	return out
}

func findService(name string) (service.IService, error) {
	registeredServices := map[string]service.IService{
		"http": &service.HTTPService{
			HTTPServiceConfiguration: &service.HTTPServiceConfiguration{
				Port:        viper.GetInt32(portFlagName),
				CORSOrigins: stringList(viper.GetStringSlice(corsOriginsFlagName)),
				Metrics:     viper.GetBool(metricsFlagName),
				Watch: watch.Config{
					MaxConnectionTime: viper.GetInt(maxConnectionTimeFlagName),
					PingSeconds:       viper.GetInt(pingSecondsFlagName),
					Tick:              viper.GetDuration(tickFlagName),
					HandshakeTimeout:  viper.GetDuration(handshakeTimeoutFlagName),
				},
			},
		},
	}
	v, ok := registeredServices[name]
	if !ok {
		return nil, fmt.Errorf("unknown service %q", name)
	}
	log.Debugf("Using %s service", name)
	return v, nil
}

func findProvider(name string) (provider.IProvider, error) {
	evaluator := eval.NewJsonEvaluator(store.NewFlags())
	registeredProviders := map[string]func() provider.IProvider{
		"filepath": func() provider.IProvider {
			return provider.NewFilePathProvider(viper.GetString(uriFlagName), evaluator)
		},
		"remote": func() provider.IProvider {
			return provider.NewRemoteProvider(provider.RemoteProviderConfiguration{
				BaseURL:         viper.GetString(relayBaseURLFlagName),
				APIKey:          viper.GetString(apiKeyFlagName),
				RefreshInterval: viper.GetDuration(refreshIntervalFlagName),
			}, evaluator)
		},
	}
	newProvider, ok := registeredProviders[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	log.Debugf("Using %s provider", name)
	return newProvider(), nil
}

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start flagwatch",
	RunE: func(cmd *cobra.Command, args []string) error {
		if log.GetLevel() >= log.InfoLevel {
			banner.Init(colorable.NewColorableStdout(), true, true, bytes.NewBufferString(startBanner))
		}

		providerImpl, err := findProvider(viper.GetString(providerFlagName))
		if err != nil {
			return err
		}
		serviceImpl, err := findService("http")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runtime.Start(ctx, providerImpl, serviceImpl); err != nil {
			log.WithError(err).Error("flagwatch stopped")
			return err
		}
		log.Info("flagwatch stopped")
		return nil
	},
}

func init() {
	flags := startCmd.Flags()
	flags.Int32P(portFlagName, "p", 8080, "Port to listen on")
	flags.StringP(providerFlagName, "y", "filepath", "Set a flag provider: filepath or remote")
	flags.StringP(uriFlagName, "f", "", "Path of the flag definition file for the filepath provider")
	flags.String(relayBaseURLFlagName, "", "Base URL of the relay used by the remote provider")
	flags.String(apiKeyFlagName, "", "API key used to authenticate with the relay")
	flags.Duration(refreshIntervalFlagName, provider.DefaultRefreshInterval, "Interval between flag refreshes of the remote provider")
	flags.StringSlice(corsOriginsFlagName, []string{"*"}, "Allowed CORS and websocket origins")
	flags.Bool(metricsFlagName, true, "Expose prometheus metrics on /metrics")
	flags.Int(maxConnectionTimeFlagName, watch.DefaultMaxConnectionTime, "Ticks after which a watch session is closed by the server")
	flags.Int(pingSecondsFlagName, watch.DefaultPingSeconds, "Ticks between keep-alive messages on a watch session")
	flags.Duration(tickFlagName, watch.DefaultTick, "Polling period of watch sessions")
	flags.Duration(handshakeTimeoutFlagName, watch.DefaultHandshakeTimeout, "Time a watch client has to send its handshake")
	_ = viper.BindPFlags(flags)

	rootCmd.AddCommand(startCmd)
}
