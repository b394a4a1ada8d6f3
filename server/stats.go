// Live server stats: prometheus metrics of the API and the broker, and database
// connection stats through expvar.

package main

import (
	"expvar"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cosmopolite/cosmopolite/server/broker"
	"github.com/cosmopolite/cosmopolite/server/logs"
	"github.com/cosmopolite/cosmopolite/server/store"
)

var commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cosmo",
	Name:      "commands_total",
	Help:      "API commands by name and result.",
}, []string{"command", "result"})

var publishDbStats sync.Once

// statsInit exposes metrics at metricsPath and expvar variables at varsPath.
// Empty path or "-" disables the endpoint.
func statsInit(mux *http.ServeMux, metricsPath, varsPath string) error {
	if metricsPath != "" && metricsPath != "-" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			versioncollector.NewCollector("cosmo"),
			commandsTotal,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "cosmo",
				Name:      "channels_connected",
				Help:      "Push channels connected to this node.",
			}, func() float64 { return float64(globals.hub.Len()) }),
		)
		if err := broker.RegisterMetrics(reg); err != nil {
			return err
		}
		mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		logs.Info.Printf("stats: metrics exposed at '%s'", metricsPath)
	}

	if varsPath != "" && varsPath != "-" {
		publishDbStats.Do(func() {
			if stats := store.Store.DbStats(); stats != nil {
				expvar.Publish("DbStats", expvar.Func(stats))
			}
		})
		mux.Handle(varsPath, expvar.Handler())
		logs.Info.Printf("stats: variables exposed at '%s'", varsPath)
	}
	return nil
}

func statsCommand(command, result string) {
	commandsTotal.WithLabelValues(command, result).Inc()
}
