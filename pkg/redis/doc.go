// Package redis connects to Redis with go-redis and exposes a readiness probe.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	srv.AddHealthcheck("redis", redis.Healthcheck(client))
//
// The client backs the shared plan cache in pkg/billing.
package redis
