// README: Health probes against the HTTP health endpoint, Redis and Postgres.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Prober interface {
	Probe(ctx context.Context) error
}

type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber treats any 2xx from URL as healthy.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p HTTPProber) Probe(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health %s: status %d", p.URL, resp.StatusCode)
	}
	return nil
}

func RedisProber(client *redis.Client) Prober {
	return ProberFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

func PostgresProber(pool *pgxpool.Pool) Prober {
	return ProberFunc(func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
}

// All is healthy only when every prober is.
func All(probers ...Prober) Prober {
	return ProberFunc(func(ctx context.Context) error {
		var errs []error
		for _, p := range probers {
			if p == nil {
				continue
			}
			if err := p.Probe(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
