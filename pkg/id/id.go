package id

import (
	"os"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// Module provides the process-wide snowflake node.
var Module = fx.Module("id",
	fx.Provide(NewNode),
)

// NewNode builds the snowflake generator. The node id comes from
// SNOWFLAKE_NODE_ID so replicas never collide; a single-node deployment can
// leave it unset.
func NewNode() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := strings.TrimSpace(os.Getenv("SNOWFLAKE_NODE_ID")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		nodeID = parsed
	}
	return snowflake.NewNode(nodeID)
}
