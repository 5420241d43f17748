package main

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"auctionhouse/api"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")
	pflag.String("db-file", "auctionhouse.db", "")

	// redis config (economy provider)
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "auctionhouse:", "")

	// auction config
	pflag.Duration("tick-interval", 5*time.Second, "")
	pflag.Duration("persist-interval", 10*time.Second, "")
	pflag.Duration("economy-timeout", 3*time.Second, "")
	pflag.Duration("max-listing-duration", 0, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("AUCTIONHOUSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		ServerConfig: api.ServerConfig{
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
				File:     viper.GetString("db-file"),
			},
			Redis: api.RedisConfig{
				Addr:      viper.GetString("redis-addr"),
				Password:  viper.GetString("redis-password"),
				DB:        viper.GetInt("redis-db"),
				KeyPrefix: viper.GetString("redis-key-prefix"),
			},
			Auction: api.AuctionConfig{
				TickInterval:       viper.GetDuration("tick-interval"),
				PersistInterval:    viper.GetDuration("persist-interval"),
				EconomyTimeout:     viper.GetDuration("economy-timeout"),
				MaxListingDuration: viper.GetDuration("max-listing-duration"),
			},
		},
	}
}

type Args struct {
	ServerURL    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" && args.ServerConfig.Auction.TickInterval > 0
}
