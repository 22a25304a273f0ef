package config

import "flag"

func newFlagSet(c *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("surge", flag.ContinueOnError)

	// Declared so Parse accepts it; the file itself is applied before
	// flag parsing (see Load).
	fs.String("config", "", "path to a JSON config file")

	fs.StringVar(&c.Host, "host", c.Host, "bind host")
	fs.IntVar(&c.Port, "port", c.Port, "bind port")
	fs.IntVar(&c.WorkerThreads, "worker-threads", c.WorkerThreads, "OS threads for the scheduler (0 = runtime default)")
	fs.IntVar(&c.MaxConnections, "max-connections", c.MaxConnections, "maximum concurrent connections")
	fs.IntVar(&c.MaxRequestBytes, "max-request-bytes", c.MaxRequestBytes, "maximum request body size")
	fs.IntVar(&c.IdleTimeoutSeconds, "idle-timeout", c.IdleTimeoutSeconds, "read/idle timeout (seconds)")
	fs.IntVar(&c.DrainTimeoutSeconds, "drain-timeout", c.DrainTimeoutSeconds, "graceful shutdown window (seconds)")
	fs.Float64Var(&c.RateLimit.Capacity, "rate-capacity", c.RateLimit.Capacity, "rate limit bucket capacity")
	fs.Float64Var(&c.RateLimit.RefillRate, "rate-refill", c.RateLimit.RefillRate, "rate limit refill (tokens/second)")
	fs.IntVar(&c.RateLimit.IdleTTLSeconds, "rate-idle-ttl", c.RateLimit.IdleTTLSeconds, "rate limit bucket idle TTL (seconds)")
	fs.StringVar(&c.Cache.Dir, "static-dir", c.Cache.Dir, "static resource directory (empty disables)")
	fs.IntVar(&c.Cache.TTLSeconds, "cache-ttl", c.Cache.TTLSeconds, "static cache entry TTL (seconds)")
	fs.StringVar(&c.Env, "env", c.Env, "environment (development/production)")

	return fs
}
