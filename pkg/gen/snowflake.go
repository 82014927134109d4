// Package gen provides the snowflake node used for generated ids.
package gen

import (
	"fmt"

	"cloudbot/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gen", fx.Provide(NewSnowflakeNode))

// NewSnowflakeNode builds the node from NODE_ID. Processes sharing a database
// must run with distinct node ids.
func NewSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node %d: %w", cfg.NodeID, err)
	}
	zap.L().Info("snowflake node ready", zap.Int64("node_id", cfg.NodeID))
	return node, nil
}
