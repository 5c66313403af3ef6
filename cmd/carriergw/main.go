package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/deepgrace/carrier"
	"github.com/hashicorp/go-metrics"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type config struct {
	Listen struct {
		Host          string `mapstructure:"host"`
		Port          string `mapstructure:"port"`
		Transport     string `mapstructure:"transport"`
		Cert          string `mapstructure:"cert"`
		Key           string `mapstructure:"key"`
		WebSocketPath string `mapstructure:"websocket_path"`
	} `mapstructure:"listen"`

	Backend struct {
		Transport          string        `mapstructure:"transport"`
		CA                 string        `mapstructure:"ca"`
		InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
		DialTimeout        time.Duration `mapstructure:"dial_timeout"`
		ReconnectInterval  time.Duration `mapstructure:"reconnect_interval"`
	} `mapstructure:"backend"`

	Services         string        `mapstructure:"services"`
	MaxPayloadSize   int           `mapstructure:"max_payload_size"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	FailPending      bool          `mapstructure:"fail_pending"`
	ErrorReplies     bool          `mapstructure:"error_replies"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	Admin            string        `mapstructure:"admin"`
	Debug            bool          `mapstructure:"debug"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"transport":         "listen.transport",
	"cert":              "listen.cert",
	"key":               "listen.key",
	"wspath":            "listen.websocket_path",
	"backend-transport": "backend.transport",
	"backend-ca":        "backend.ca",
	"insecure":          "backend.insecure_skip_verify",
	"dial-timeout":      "backend.dial_timeout",
	"reconnect":         "backend.reconnect_interval",
	"max-payload":       "max_payload_size",
	"request-timeout":   "request_timeout",
	"fail-pending":      "fail_pending",
	"error-replies":     "error_replies",
	"admin":             "admin",
	"debug":             "debug",
}

var (
	flagConfig  = flag.String("config", "", "YAML configuration file")
	flagProfile = flag.Bool("profile", false, "write cpu profile to file")
)

func init() {
	flag.String("transport", "tcp", "client transport: tcp, tls, ws or wss")
	flag.String("cert", "", "TLS certificate file for secured client transports")
	flag.String("key", "", "TLS key file for secured client transports")
	flag.String("wspath", carrier.DefaultWebSocketPath, "WebSocket upgrade path")
	flag.String("backend-transport", "tcp", "backend transport: tcp, tls, ws or wss")
	flag.String("backend-ca", "", "CA bundle used to verify secured backends")
	flag.Bool("insecure", false, "skip verification of backend certificates")
	flag.Duration("dial-timeout", carrier.DefaultDialTimeout, "backend dial timeout")
	flag.Duration("reconnect", 0, "redial lost backends after this interval, 0 disables")
	flag.Int("max-payload", carrier.DefaultMaxPayloadSize, "largest accepted payload in bytes")
	flag.Duration("request-timeout", 0, "expire unanswered requests after this, 0 disables")
	flag.Bool("fail-pending", false, "discard pending requests when their backend is lost")
	flag.Bool("error-replies", false, "answer requests that will never be answered with an error frame")
	flag.String("admin", "", "address for the admin HTTP endpoint")
	flag.Bool("debug", false, "development logging")
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <host> <port> <services>\n", os.Args[0])
	flag.PrintDefaults()
}

func loadConfig(path string, args []string) (*config, error) {
	v := viper.New()
	v.SetEnvPrefix("CARRIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	flag.VisitAll(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			v.SetDefault(key, f.DefValue)
		}
	})
	v.SetDefault("listen.host", "0.0.0.0")
	v.SetDefault("listen.port", "")
	v.SetDefault("handshake_timeout", carrier.DefaultHandshakeTimeout)
	v.SetDefault("services", "")
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}
	flag.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			v.Set(key, f.Value.String())
		}
	})
	for i, key := range []string{"listen.host", "listen.port", "services"} {
		if i < len(args) {
			v.Set(key, args[i])
		}
	}
	var c config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if c.Listen.Port == "" || c.Services == "" {
		return nil, errors.New("listen port and service table are required")
	}
	return &c, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newGateway(c *config, logger *zap.Logger, sink metrics.MetricSink) (gw *carrier.Gateway, err error) {
	gw = carrier.NewGateway()
	if gw.Transport, err = carrier.ParseTransport(c.Listen.Transport); err != nil {
		return nil, err
	}
	if gw.BackendTransport, err = carrier.ParseTransport(c.Backend.Transport); err != nil {
		return nil, err
	}
	if gw.Transport.Secure() {
		if c.Listen.Cert == "" || c.Listen.Key == "" {
			return nil, errors.Wrapf(carrier.ErrNoTLSConfig, "transport %v needs -cert and -key", gw.Transport)
		}
		cert, err := tls.LoadX509KeyPair(c.Listen.Cert, c.Listen.Key)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		gw.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	if gw.BackendTransport.Secure() {
		gw.BackendTLSConfig = &tls.Config{InsecureSkipVerify: c.Backend.InsecureSkipVerify}
		if c.Backend.CA != "" {
			pem, err := os.ReadFile(c.Backend.CA)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, errors.Errorf("no certificates in %q", c.Backend.CA)
			}
			gw.BackendTLSConfig.RootCAs = pool
		}
	}
	gw.WebSocketPath = c.Listen.WebSocketPath
	gw.DialTimeout = c.Backend.DialTimeout
	gw.HandshakeTimeout = c.HandshakeTimeout
	gw.ReconnectInterval = c.Backend.ReconnectInterval
	gw.MaxPayloadSize = c.MaxPayloadSize
	gw.RequestTimeout = c.RequestTimeout
	gw.FailPendingOnBackendLoss = c.FailPending
	gw.ErrorReplies = c.ErrorReplies
	gw.AdminAddr = c.Admin
	gw.Logger = logger
	gw.MetricSink = sink
	return gw, nil
}

func run() error {
	c, err := loadConfig(*flagConfig, flag.Args())
	if err != nil {
		return err
	}
	logger, err := newLogger(c.Debug)
	if err != nil {
		return errors.WithStack(err)
	}
	defer logger.Sync()

	services, err := carrier.LoadServiceTable(c.Services)
	if err != nil {
		logger.Error("loading service table failed", zap.String("path", c.Services), zap.Error(err))
		return err
	}

	// SIGUSR1 dumps the collected metrics to stderr
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	sig := metrics.DefaultInmemSignal(inm)
	defer sig.Stop()

	gw, err := newGateway(c, logger, inm)
	if err != nil {
		logger.Error("bad configuration", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(c.Listen.Host, c.Listen.Port)
	if err = gw.Run(ctx, addr, services); err != nil {
		logger.Error("gateway failed", zap.String("addr", addr), zap.Error(err))
	}
	return err
}

func main() {
	flag.Usage = usage
	flag.Parse()
	var prof interface{ Stop() }
	if *flagProfile {
		prof = profile.Start(profile.ProfilePath("."))
	}
	err := run()
	if prof != nil {
		prof.Stop()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
