package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// rateLimitedClient wraps a Client with a token-bucket limiter so bulk
// disambiguation runs stay under the API's requests-per-minute ceiling.
type rateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimited wraps client so that at most rps requests per second are
// issued, with the given burst.
func NewRateLimited(client Client, rps float64, burst int) Client {
	return &rateLimitedClient{
		inner:   client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (c *rateLimitedClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "anthropic: rate limit wait")
	}
	return c.inner.CreateMessage(ctx, req)
}
