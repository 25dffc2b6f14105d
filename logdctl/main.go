package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"logbased.io/client/logd"
	"logbased.io/client/logd/store"
)

const LogdCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(`Logd control.

Settings are read from the config file, then LOGD_* environment variables
(a .env file in the working directory is loaded first), then flags.
The default api is %s.

Usage:
    logdctl send [options] <payload>
    logdctl tail [options] [--count=<count>]
    logdctl login [options] --provider=<provider> [--param=<param>...]
    logdctl session [options] [--fragment=<fragment>]
    logdctl logout [options]
    logdctl -h | --help
    logdctl --version

Options:
    -h --help                   Show this screen.
    --version                   Show version.
    --config=<config>           Yaml config file.
    --domain=<domain>           Log domain.
    --api=<api>                 Api host.
    --insecure                  Use ws and http instead of wss and https.
    --token=<token>             Session token. Prompted for when needed and not set.
    --store=<store>             One of memory, badger, redis, sqlite.
    --store_path=<store_path>   Badger directory or sqlite file.
    --redis_url=<redis_url>     redis://...
    --metrics_addr=<addr>       Serve prometheus metrics at <addr>/metrics.
    --timeout=<timeout>         Wait this long for a reply, e.g. 30s.
    --count=<count>             Exit after this many messages.
    --provider=<provider>       Login provider, e.g. google.
    --param=<param>             Login parameter as key=value.
    --fragment=<fragment>       Login redirect fragment holding a new session.
    --v=<v>                     Log verbosity.`, logd.DefaultApi)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], LogdCtlVersion)
	if err != nil {
		panic(err)
	}

	flag.Set("logtostderr", "true")
	if v, err := opts.String("--v"); err == nil {
		flag.Set("v", v)
	}
	defer glog.Flush()

	// the .env file is optional
	godotenv.Load()

	configPath, _ := opts.String("--config")
	config, err := LoadConfig(configPath)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	if err := config.ApplyOpts(opts); err != nil {
		Err.Fatalf("%s", err)
	}
	if config.Domain == "" {
		Err.Fatalf("A domain is required (--domain or LOGD_DOMAIN).")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	if send_, _ := opts.Bool("send"); send_ {
		err = send(ctx, config, opts)
	} else if tail_, _ := opts.Bool("tail"); tail_ {
		err = tail(ctx, config, opts)
	} else if login_, _ := opts.Bool("login"); login_ {
		err = login(ctx, config, opts)
	} else if session_, _ := opts.Bool("session"); session_ {
		err = session(ctx, config, opts)
	} else if logout_, _ := opts.Bool("logout"); logout_ {
		err = logout(ctx, config)
	}
	if err != nil {
		Err.Printf("%s", err)
		glog.Flush()
		os.Exit(1)
	}
}

type cliClient struct {
	*logd.Client
	store store.Store
}

func newCliClient(ctx context.Context, config *Config, delegate logd.Delegate) (*cliClient, error) {
	s, err := store.Open(ctx, config.StoreSettings())
	if err != nil {
		return nil, err
	}

	settings := config.ClientSettings()
	if config.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		settings.Metrics = logd.NewMetrics(reg)
		serveMetrics(ctx, config.MetricsAddr, reg)
	}

	client, err := logd.NewClient(ctx, settings, s, delegate)
	if err != nil {
		s.Close()
		return nil, err
	}
	// an explicit token replaces a different stored one
	if config.Token != "" && client.Session().Token != config.Token {
		client.SetSession(&logd.Session{
			Token: config.Token,
		})
	}
	return &cliClient{
		Client: client,
		store:  s,
	}, nil
}

// closes the client, waits for the last state to be written, then closes the store
func (self *cliClient) Close() {
	self.Client.Close()
	<-self.Client.Done()
	if err := self.store.Close(); err != nil {
		glog.Infof("[s]close store = %s\n", err)
	}
}

// prompts on a terminal when there is no token
func (self *cliClient) requireToken() error {
	self.Sync()
	if self.Session().HasToken() {
		return nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return errors.New("A token is required (--token or LOGD_TOKEN).")
	}
	fmt.Print("Enter token: ")
	tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Printf("\n")
	if err != nil {
		return err
	}
	token := strings.TrimSpace(string(tokenBytes))
	if token == "" {
		return errors.New("A token is required.")
	}
	self.SetSession(&logd.Session{
		Token: token,
	})
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		err := metricsServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			Err.Printf("metrics error: %s", err)
		}
	}()
	go func() {
		<-ctx.Done()
		metricsServer.Close()
	}()
}

func printJson(value any) {
	valueJson, err := json.Marshal(value)
	if err != nil {
		Out.Printf("%v", value)
		return
	}
	Out.Printf("%s", valueJson)
}

// send one payload and print the reply
func send(ctx context.Context, config *Config, opts docopt.Opts) error {
	payloadStr, _ := opts.String("<payload>")

	// payloads that are not json are sent as strings
	var payload any
	if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
		payload = payloadStr
	}

	client, err := newCliClient(ctx, config, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.requireToken(); err != nil {
		return err
	}
	client.Init()

	sendCtx, sendCancel := context.WithTimeout(ctx, config.Timeout)
	defer sendCancel()
	result, err := client.SendAndWait(sendCtx, payload)
	if err != nil {
		return fmt.Errorf("No reply (%w).", err)
	}
	printJson(result)
	return nil
}

// print delivered messages
func tail(ctx context.Context, config *Config, opts docopt.Opts) error {
	count := -1
	if count_, err := opts.Int("--count"); err == nil {
		count = count_
	}

	tailCtx, tailCancel := context.WithCancel(ctx)
	defer tailCancel()

	n := 0
	delegate := &logd.DelegateFuncs{
		HandleMessageFunc: func(message logd.Message) {
			if count == 0 {
				return
			}
			printJson(message)
			n += 1
			if 0 < count && count <= n {
				count = 0
				tailCancel()
			}
		},
	}

	client, err := newCliClient(ctx, config, delegate)
	if err != nil {
		return err
	}
	defer client.Close()

	client.AddChangeCallback(func(event *logd.ChangeEvent) {
		switch event.Key {
		case logd.ChangeCaught:
			Err.Printf("caught up since %s", sinceJson(client.Session()))
		case logd.ChangeConnected:
			if connected, _ := event.Value.(bool); !connected {
				Err.Printf("disconnected")
			}
		}
	})

	if err := client.requireToken(); err != nil {
		return err
	}
	client.Init()

	<-tailCtx.Done()
	client.Sync()
	Err.Printf("since %s", sinceJson(client.Session()))
	return nil
}

func sinceJson(session *logd.Session) string {
	sinceBytes, err := json.Marshal(session.Since)
	if err != nil {
		return "{}"
	}
	return string(sinceBytes)
}

// print the login redirect url
func login(ctx context.Context, config *Config, opts docopt.Opts) error {
	provider, _ := opts.String("--provider")
	params := map[string]string{}
	if paramList, ok := opts["--param"].([]string); ok {
		for _, param := range paramList {
			key, value, found := strings.Cut(param, "=")
			if !found {
				return fmt.Errorf("Param must be key=value (%s).", param)
			}
			params[key] = value
		}
	}

	client, err := newCliClient(ctx, config, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	redirects := make(chan string, 1)
	alias := false
	err = client.Login(
		&logd.LoginArgs{
			Provider: provider,
			Params:   params,
			Alias:    &alias,
		},
		func(result any) {
			if resultMap, ok := result.(map[string]any); ok {
				redirect, _ := resultMap["redirect"].(string)
				redirects <- redirect
			}
		},
	)
	if err != nil {
		return err
	}
	select {
	case redirect := <-redirects:
		Out.Printf("%s", redirect)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// print the stored session, or import one from a login redirect fragment
func session(ctx context.Context, config *Config, opts docopt.Opts) error {
	client, err := newCliClient(ctx, config, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	if fragment, err := opts.String("--fragment"); err == nil {
		fragmentSession, err := logd.ParseFragmentSession(fragment)
		if err != nil {
			return err
		}
		if fragmentSession == nil {
			return errors.New("The fragment has no session.")
		}
		client.SetSession(fragmentSession)
	}
	client.Sync()
	printJson(client.Session())
	return nil
}

// clear the stored session and state
func logout(ctx context.Context, config *Config) error {
	client, err := newCliClient(ctx, config, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	client.Logout()
	client.Sync()
	return nil
}
