package jobsredis

import "github.com/iofold/iofold-sub002/pkg/errx"

var redisErrors = errx.NewRegistry("JOBS_REDIS")

var (
	ErrEnqueue   = redisErrors.Register("ENQUEUE", errx.TypeExternal, 500, "Redis enqueue failed")
	ErrDequeue   = redisErrors.Register("DEQUEUE", errx.TypeExternal, 500, "Redis dequeue failed")
	ErrMarshal   = redisErrors.Register("MARSHAL", errx.TypeInternal, 500, "Failed to marshal queue message")
	ErrUnmarshal = redisErrors.Register("UNMARSHAL", errx.TypeInternal, 500, "Failed to unmarshal queue message")
)
