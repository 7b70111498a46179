package main

import (
	"flag"
	"os"

	"github.com/pantrylabs/listsync"
)

var (
	flagBindAddr = flag.String("port", ":8010", "Bind address")
	flagPostgres = flag.String("db", "user=postgres dbname=listsync sslmode=disable", "Postgres DB connection string (see lib/pq docs)")
	flagRedis    = flag.String("redis", "", "Redis address for the capability store, e.g. localhost:6379")
	flagDebug    = flag.Bool("debug", false, "Enable trace logging")
	flagSentry   = flag.String("sentry", "", "Sentry DSN; error reporting is disabled when empty")
	flagMetrics  = flag.Bool("metrics", false, "Expose prometheus metrics on /metrics")
)

func main() {
	flag.Parse()
	if *flagRedis == "" {
		flag.Usage()
		os.Exit(1)
	}
	listsync.RunServer(listsync.Opts{
		BindAddr:         *flagBindAddr,
		PostgresURI:      *flagPostgres,
		RedisAddr:        *flagRedis,
		Debug:            *flagDebug,
		SentryDSN:        *flagSentry,
		EnablePrometheus: *flagMetrics,
	})
}
