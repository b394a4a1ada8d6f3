// Debug tooling. Dumps named runtime profiles in response to HTTP requests at
//
//	http(s)://<host-name>/<configured-path>/<profile-name>
//
// The configured path itself lists the available profiles. See godoc for the list of
// possible profile names: https://golang.org/pkg/runtime/pprof/#Profile

package main

import (
	"fmt"
	"net/http"
	"path"
	"runtime/pprof"
	"strings"

	"github.com/cosmopolite/cosmopolite/server/logs"
)

// Expose debug profiling at the given URL path.
func servePprof(mux *http.ServeMux, serveAt string) {
	if serveAt == "" || serveAt == "-" {
		return
	}

	root := path.Clean("/"+serveAt) + "/"
	mux.Handle(root, http.StripPrefix(root, http.HandlerFunc(profileHandler)))

	logs.Info.Printf("pprof: profiling info exposed at '%s'", root)
}

func profileHandler(wrt http.ResponseWriter, req *http.Request) {
	wrt.Header().Set("X-Content-Type-Options", "nosniff")
	wrt.Header().Set("Content-Type", "text/plain; charset=utf-8")

	name := strings.Trim(req.URL.Path, "/")
	if name == "" {
		for _, p := range pprof.Profiles() {
			fmt.Fprintf(wrt, "%s %d\n", p.Name(), p.Count())
		}
		return
	}

	profile := pprof.Lookup(name)
	if profile == nil {
		wrt.Header().Set("X-Go-Pprof", "1")
		wrt.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(wrt, "Unknown profile '"+name+"'")
		return
	}

	// Goroutines are dumped as stack traces, everything else in the legacy text format.
	debug := 1
	if name == "goroutine" {
		debug = 2
	}
	profile.WriteTo(wrt, debug)
}
