// Package devstore поднимает Redis в памяти процесса (miniredis) для режима -dev:
// API работает без внешнего Redis, скрипты и Pub/Sub ведут себя так же.
package devstore

import (
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/logger"
	redisstorage "github.com/dealhub/internal/storage/redis"
)

type Client struct {
	*redisstorage.Client
	srv *miniredis.Miniredis
}

func Start() (*Client, error) {
	srv, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("devstore: start miniredis: %w", err)
	}
	logger.Infof("devstore: in-memory redis on %s", srv.Addr())
	cli := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return &Client{Client: redisstorage.Wrap(cli), srv: srv}, nil
}

func (c *Client) Close() error {
	err := c.Client.Close()
	c.srv.Close()
	return err
}
