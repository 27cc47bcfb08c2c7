// Package redisstream provides a Redis Streams backend for xpub.
//
// Backend name: "redis-streams"
//
// Each message becomes one XADD entry on the stream named by the topic, with the
// fields id, producer, payload (raw bytes), timestamp (unix ns) and one
// "prop:<key>" field per property.
//
// Config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - username, password, db
//   - tls, tls_server_name
//   - max_len_approx: approximate MAXLEN trimming (default 0 = unbounded)
//   - pool_size: connections per client (default 4)
//   - dial_timeout: ping timeout when connecting (default 2s)
//
// Example builder usage:
//
//	h, err := xpub.NewPublisherBuilder().
//	    WithTopic("payments").
//	    WithBackend(redisstream.BackendName, map[string]any{
//	        "addr":           "localhost:6379",
//	        "max_len_approx": int64(100000),
//	    }).
//	    Build(ctx)
package redisstream
