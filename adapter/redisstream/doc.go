// Package redisstream provides a Redis Streams sink for xevents and a consumer
// group reader for services downstream of it.
//
// Sink name: "redis-streams"
//
// Each message becomes one XADD entry on the configured stream (the routing
// key) with fields id, name, payload, producedAt and one meta:<header> field
// per message header.
//
// Minimal config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - stream: routing key / stream name (default "xevents")
//   - max_len_approx: MAXLEN ~ trimming (default 0 = unbounded)
//
// Consumer keys:
//   - group: consumer group name (default "xevents")
//   - consumer: consumer name (default "xevents-<host>-<pid>")
//   - concurrency: number of workers (default 8)
//   - batch_size: XREADGROUP COUNT (default 128)
//   - block: XREADGROUP BLOCK duration (default 5s)
//   - auto_create: create group/stream if missing (default true)
//   - dead_letter: stream receiving nacked entries (optional)
//
// Example builder usage:
//
//	p, _ := xevents.NewPipelineBuilder().
//	    WithIdentity(xevents.SystemIdentity{ApplicationID: "crm", DeploymentID: "eu-1"}).
//	    WithSink(redisstream.SinkName, map[string]any{
//	        "addr":           "localhost:6379",
//	        "stream":         "crm-changes",
//	        "max_len_approx": 100000,
//	    }).
//	    Build()
package redisstream
