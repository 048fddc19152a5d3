// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package redisutil

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClientFromURL creates a new Redis client based on the provided URL.
// The URL scheme can be either `redis` or `redis+sentinel`. An empty URL
// yields a nil client.
func RedisClientFromURL(redisUrl string) (redis.UniversalClient, error) {
	if redisUrl == "" {
		return nil, nil
	}
	u, err := url.Parse(redisUrl)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "redis+sentinel" {
		redisOptions, err := parseFailoverRedisUrl(u)
		if err != nil {
			return nil, err
		}
		return redis.NewFailoverClient(redisOptions), nil
	}
	redisOptions, err := redis.ParseURL(redisUrl)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(redisOptions), nil
}

// Example Usage :
//
//	redis+sentinel://<user>:<password>@<host1>:<port1>,<host2>:<port2>/<master_name>/<db_number>?dial_timeout=3&max_retries=2
func parseFailoverRedisUrl(u *url.URL) (*redis.FailoverOptions, error) {
	o := &redis.FailoverOptions{}
	if u.User != nil {
		o.SentinelUsername = u.User.Username()
		o.SentinelPassword, _ = u.User.Password()
	}
	o.SentinelAddrs = sentinelAddresses(u.Host)
	f := strings.FieldsFunc(u.Path, func(r rune) bool {
		return r == '/'
	})
	switch len(f) {
	case 0:
		return nil, fmt.Errorf("redis: master name is required")
	case 1:
		o.MasterName = f[0]
	case 2:
		o.MasterName = f[0]
		var err error
		if o.DB, err = strconv.Atoi(f[1]); err != nil {
			return nil, fmt.Errorf("redis: invalid database number: %q", f[1])
		}
	default:
		return nil, fmt.Errorf("redis: invalid URL path: %s", u.Path)
	}
	return withQueryOptions(u.Query(), o)
}

func sentinelAddresses(hosts string) []string {
	var addresses []string
	for _, urlHost := range strings.Split(hosts, ",") {
		host, port, err := net.SplitHostPort(urlHost)
		if err != nil {
			host = urlHost
		}
		if host == "" {
			host = "localhost"
		}
		if port == "" {
			port = "6379"
		}
		addresses = append(addresses, net.JoinHostPort(host, port))
	}
	return addresses
}

// parseDuration accepts a plain number of seconds or a Go duration. Zero or
// negative seconds disable the timeout.
func parseDuration(name, s string) (time.Duration, error) {
	if i, err := strconv.Atoi(s); err == nil {
		if i <= 0 {
			return -1, nil
		}
		return time.Duration(i) * time.Second, nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("redis: invalid %s duration: %w", name, err)
	}
	return dur, nil
}

func withQueryOptions(q url.Values, o *redis.FailoverOptions) (*redis.FailoverOptions, error) {
	ints := map[string]*int{
		"db":             &o.DB,
		"max_retries":    &o.MaxRetries,
		"pool_size":      &o.PoolSize,
		"min_idle_conns": &o.MinIdleConns,
	}
	durations := map[string]*time.Duration{
		"dial_timeout":  &o.DialTimeout,
		"read_timeout":  &o.ReadTimeout,
		"write_timeout": &o.WriteTimeout,
		"pool_timeout":  &o.PoolTimeout,
	}
	for name, values := range q {
		value := values[len(values)-1]
		if target, ok := ints[name]; ok {
			i, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("redis: invalid %s number: %w", name, err)
			}
			*target = i
			continue
		}
		if target, ok := durations[name]; ok {
			dur, err := parseDuration(name, value)
			if err != nil {
				return nil, err
			}
			*target = dur
			continue
		}
		if name == "client_name" {
			o.ClientName = value
			continue
		}
		return nil, fmt.Errorf("redis: unexpected option: %s", name)
	}
	return o, nil
}
