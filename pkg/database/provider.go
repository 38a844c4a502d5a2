// Package database owns the leader and follower Postgres pools and hands
// out connections by replica role.
package database

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"rywrouter/config"
	"rywrouter/pkg/replica"
)

// Provider implements router.Provider[*pgxpool.Conn].
type Provider struct {
	leader   *pgxpool.Pool
	follower *pgxpool.Pool
}

// New parses both DSNs and creates the pools. Connections are opened on
// demand, so an unreachable server is reported by Ping or Acquire rather
// than here. Identical DSNs share one pool.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Provider, error) {
	if cfg.LeaderDSN == "" || cfg.FollowerDSN == "" {
		return nil, errors.Mark(
			errors.New("database: leader_dsn and follower_dsn are both required"),
			config.ErrInvalidConfig)
	}

	leader, err := newPool(ctx, cfg.LeaderDSN, cfg.MaxConns)
	if err != nil {
		return nil, errors.Wrap(err, "leader pool")
	}
	if cfg.FollowerDSN == cfg.LeaderDSN {
		return &Provider{leader: leader, follower: leader}, nil
	}

	follower, err := newPool(ctx, cfg.FollowerDSN, cfg.MaxConns)
	if err != nil {
		leader.Close()
		return nil, errors.Wrap(err, "follower pool")
	}
	return &Provider{leader: leader, follower: follower}, nil
}

func newPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "parse dsn"), config.ErrInvalidConfig)
	}
	if maxConns > 0 {
		pcfg.MaxConns = maxConns
	}
	return pgxpool.NewWithConfig(ctx, pcfg)
}

// Pool returns the pool serving role.
func (p *Provider) Pool(role replica.Role) *pgxpool.Pool {
	if role == replica.Leader {
		return p.leader
	}
	return p.follower
}

// Acquire takes a connection from the pool for role. The caller must
// Release it.
func (p *Provider) Acquire(ctx context.Context, role replica.Role) (*pgxpool.Conn, error) {
	return p.Pool(role).Acquire(ctx)
}

// Ping checks both pools.
func (p *Provider) Ping(ctx context.Context) error {
	if err := p.leader.Ping(ctx); err != nil {
		return errors.Wrap(err, "ping leader")
	}
	if p.follower != p.leader {
		if err := p.follower.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping follower")
		}
	}
	return nil
}

// Close closes both pools.
func (p *Provider) Close() {
	p.leader.Close()
	if p.follower != p.leader {
		p.follower.Close()
	}
}
