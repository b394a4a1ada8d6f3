/******************************************************************************
 *
 *  Description :
 *
 *  Setup & initialization.
 *
 *****************************************************************************/

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/common/version"
	jcr "github.com/tinode/jsonco"

	"github.com/cosmopolite/cosmopolite/server/broker"
	"github.com/cosmopolite/cosmopolite/server/channel"
	"github.com/cosmopolite/cosmopolite/server/logs"
	"github.com/cosmopolite/cosmopolite/server/store"

	// Storage adapters.
	_ "github.com/cosmopolite/cosmopolite/server/db/mongodb"
	_ "github.com/cosmopolite/cosmopolite/server/db/mysql"
	_ "github.com/cosmopolite/cosmopolite/server/db/pebble"
	_ "github.com/cosmopolite/cosmopolite/server/db/postgres"
)

const (
	currentVersion = "0.3"

	// Base URL path for serving the API and the push channels.
	defaultApiPath = "/v0/"
	// Default address to listen on.
	defaultListen = ":6060"

	defaultFanoutWorkers = 16
	defaultFanoutQueue   = 128

	// Time allowed to connect to the push relay.
	relayConnectTimeout = 10 * time.Second
)

// Build version number, set by the compiler.
var buildstamp = ""

var globals struct {
	broker  *broker.Broker
	hub     *channel.Hub
	sweeper *sweeper
	limiter *clientLimiter

	// Request header carrying the account verified by the front proxy.
	accountHeader string
	// Accounts with administrative access to all subjects.
	admins map[string]bool

	// Period of websocket pings.
	pingPeriod time.Duration

	// Add Strict-Transport-Security to headers, the value signifies age.
	// Empty string "" turns it off
	tlsStrictMaxAge string
}

type channelConfigType struct {
	// Relay of pushes between cluster nodes. Single node if missing.
	Redis *channel.RedisConfig `json:"redis"`
	// Period of websocket pings.
	PingPeriod duration `json:"ping_period"`
	// Lifetime of a channel token not used for connecting.
	TokenTTL duration `json:"token_ttl"`
}

// Contents of the configuration file
type configType struct {
	// HTTP(S) address:port to listen on.
	Listen string `json:"listen"`
	// Base URL path where the API and the push channels are served.
	ApiPath string `json:"api_path"`
	// URL path for exposing prometheus metrics. Empty or "-" to disable.
	MetricsPath string `json:"metrics_path"`
	// URL path for exposing runtime stats through expvar. Empty or "-" to disable.
	ExpvarPath string `json:"expvar"`
	// URL path for runtime profiles. Empty or "-" to disable.
	PprofPath string `json:"pprof_url"`
	// Take the client address from the X-Forwarded-For header.
	UseXForwardedFor bool `json:"use_x_forwarded_for"`
	// Header set by the authenticating proxy to the verified account of the caller.
	AccountHeader string `json:"account_header"`
	// Accounts with access to all subjects.
	AdminAccounts []string `json:"admin_accounts"`
	// Polling instances which did not poll for this long are removed.
	PollTimeout duration `json:"poll_timeout"`
	// Cron expression for removing stale polling instances.
	SweepSchedule string `json:"sweep_schedule"`
	// Per-client limit of API requests.
	RateLimit *rateLimitConfig `json:"rate_limit"`
	// Fan-out concurrency.
	FanoutWorkers int `json:"fanout_workers"`
	FanoutQueue   int `json:"fanout_queue"`
	// Snowflake worker id of this node, unique in the cluster.
	WorkerID int `json:"worker_id"`

	Channel     channelConfigType `json:"channel"`
	TLS         json.RawMessage   `json:"tls"`
	StoreConfig json.RawMessage   `json:"store_config"`
}

func main() {
	logFlags := flag.String("log_flags", "stdFlags",
		"Comma-separated list of log flags (as defined in https://golang.org/pkg/log/#pkg-constants without the L prefix)")
	configfile := flag.String("config", "./cosmo.conf", "Path to config file.")
	listenOn := flag.String("listen", "", "Override address and port to listen on for HTTP(S) clients.")
	nodeName := flag.String("node", "", "Name of this node in the push relay, hostname by default.")
	flag.Parse()

	logs.Init(os.Stderr, *logFlags)

	version.Version = currentVersion
	version.Revision = buildstamp
	logs.Info.Printf("Server %s pid=%d; %d process(es)", version.Info(), os.Getpid(), runtime.GOMAXPROCS(0))

	logs.Info.Printf("Using config from '%s'", *configfile)

	config, err := loadConfig(*configfile)
	if err != nil {
		logs.Err.Fatal(err)
	}
	if *listenOn != "" {
		config.Listen = *listenOn
	}

	err = store.Store.Open(config.WorkerID, config.StoreConfig)
	logs.Info.Println("DB adapter", store.Store.GetAdapterName(), store.Store.GetAdapterVersion())
	if err != nil {
		logs.Err.Fatal("Failed to connect to DB: ", err)
	}
	defer func() {
		store.Store.Close()
		logs.Info.Println("Closed database connection(s)")
	}()

	initGlobals(config)

	if config.Channel.Redis != nil && config.Channel.Redis.Addr != "" {
		node := *nodeName
		if node == "" {
			node, _ = os.Hostname()
			node += ":" + strconv.Itoa(os.Getpid())
		}
		ctx, cancel := context.WithTimeout(context.Background(), relayConnectTimeout)
		err = globals.hub.EnableRelay(ctx, config.Channel.Redis, node)
		cancel()
		if err != nil {
			logs.Err.Fatal("Failed to connect push relay: ", err)
		}
	}

	globals.sweeper, err = newSweeper(globals.broker, config.SweepSchedule, config.PollTimeout.Or(defaultPollTimeout))
	if err != nil {
		logs.Err.Fatal(err)
	}
	go globals.sweeper.run()

	handler, err := newHandler(config)
	if err != nil {
		logs.Err.Fatal(err)
	}

	if err = listenAndServe(config.Listen, handler, false, config.TLS, signalHandler()); err != nil {
		logs.Err.Fatal(err)
	}
	logs.Info.Println("All done, good bye")
}

// loadConfig reads the config file. Comments are allowed.
func loadConfig(path string) (*configType, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config configType
	jr := jcr.New(file)
	if err = json.NewDecoder(jr).Decode(&config); err != nil {
		switch jerr := err.(type) {
		case *json.UnmarshalTypeError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			return nil, fmt.Errorf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
				jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
		case *json.SyntaxError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			return nil, fmt.Errorf("Syntax error in config file at %d:%d (offset %d bytes): %s",
				lnum, cnum, jerr.Offset, jerr.Error())
		default:
			return nil, fmt.Errorf("Failed to parse config file: %s", err)
		}
	}

	if config.Listen == "" {
		config.Listen = defaultListen
	}
	if config.ApiPath == "" {
		config.ApiPath = defaultApiPath
	}
	if !strings.HasPrefix(config.ApiPath, "/") {
		config.ApiPath = "/" + config.ApiPath
	}
	if !strings.HasSuffix(config.ApiPath, "/") {
		config.ApiPath += "/"
	}
	if config.FanoutWorkers <= 0 {
		config.FanoutWorkers = defaultFanoutWorkers
	}
	if config.FanoutQueue <= 0 {
		config.FanoutQueue = defaultFanoutQueue
	}
	return &config, nil
}

// initGlobals creates the push hub and the broker. The store must be open.
func initGlobals(config *configType) {
	globals.hub = channel.NewHub(config.Channel.TokenTTL.Or(0))
	globals.broker = broker.New(globals.hub, config.FanoutWorkers, config.FanoutQueue)
	globals.hub.OnConnect = globals.broker.ChannelConnected
	globals.hub.OnDisconnect = func(instance string) {
		if err := globals.broker.ChannelDisconnected(instance); err != nil {
			logs.Err.Println("channel: failed to tear down instance", instance, err)
		}
	}

	globals.pingPeriod = config.Channel.PingPeriod.Or(defaultPingPeriod)
	globals.limiter = newClientLimiter(config.RateLimit)
	globals.accountHeader = config.AccountHeader
	globals.admins = make(map[string]bool, len(config.AdminAccounts))
	for _, acc := range config.AdminAccounts {
		globals.admins[acc] = true
	}
}

// newHandler sets up the HTTP endpoints.
func newHandler(config *configType) (http.Handler, error) {
	mux := http.NewServeMux()

	mux.Handle(config.ApiPath+"api", handlers.CompressHandler(http.HandlerFunc(serveAPI)))
	mux.HandleFunc(config.ApiPath+"channel", serveChannel)
	if err := statsInit(mux, config.MetricsPath, config.ExpvarPath); err != nil {
		return nil, err
	}
	servePprof(mux, config.PprofPath)
	mux.HandleFunc("/", serve404)

	var handler http.Handler = handlers.CombinedLoggingHandler(logs.Writer(), hstsHandler(mux))
	if config.UseXForwardedFor {
		handler = handlers.ProxyHeaders(handler)
	}
	logs.Info.Printf("API served at '%sapi', channels at '%schannel'", config.ApiPath, config.ApiPath)
	return handler, nil
}
