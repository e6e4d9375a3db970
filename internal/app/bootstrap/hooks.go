// internal/app/bootstrap/hooks.go
package bootstrap

import (
	"github.com/dalemusser/waffle/app"
)

// Hooks wires this app into the WAFFLE lifecycle.
// Each function is called in order by app.Run, from configuration
// loading through DB setup, one-time startup work, HTTP handler
// construction, and finally graceful shutdown.
var Hooks = app.Hooks[AppConfig, DBDeps]{
	Name:           "stratamind",   // used only for logging/diagnostics
	LoadConfig:     LoadConfig,     // load core + app config
	ValidateConfig: ValidateConfig, // secrets, TTLs, audit modes
	ConnectDB:      ConnectDB,      // MongoDB, optional Redis, mailer
	EnsureSchema:   EnsureSchema,   // validators, indexes, seed account
	Startup:        Startup,        // expiry sweeps
	BuildHandler:   BuildHandler,   // HTTP router + middleware stack
	Shutdown:       Shutdown,       // stop sweeps, close Redis and MongoDB
}
