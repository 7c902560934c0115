// Package profiling starts continuous profiling with Pyroscope.
package profiling

import (
	"log"
	"os"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Init starts the profiler when PYROSCOPE_PROFILING_ENABLED is set and returns
// a function that stops it. A profiler that fails to start is logged and
// skipped.
func Init(app string) func() {
	if !isTrue(os.Getenv("PYROSCOPE_PROFILING_ENABLED")) {
		return func() {}
	}

	cfg := Config(app)
	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		log.Printf("pyroscope start failed: %v", err)
		return func() {}
	}
	log.Printf("profiling enabled server=%s application=%s", cfg.ServerAddress, cfg.ApplicationName)

	return func() {
		if err := profiler.Stop(); err != nil {
			log.Printf("pyroscope stop: %v", err)
		}
	}
}

// Config builds the profiler settings from PYROSCOPE_* variables.
func Config(app string) pyroscope.Config {
	cfg := pyroscope.Config{
		ApplicationName: getEnv("PYROSCOPE_APPLICATION_NAME", app),
		ServerAddress:   getEnv("PYROSCOPE_SERVER_ADDRESS", "http://localhost:4040"),
		Tags:            map[string]string{"service": app},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	}
	user, pass := os.Getenv("PYROSCOPE_BASIC_AUTH_USER"), os.Getenv("PYROSCOPE_BASIC_AUTH_PASSWORD")
	if user != "" && pass != "" {
		cfg.BasicAuthUser = user
		cfg.BasicAuthPassword = pass
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func isTrue(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
