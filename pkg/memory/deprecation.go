package memory

import "context"

// DeprecatedTools returns the set of tool names currently marked deprecated,
// consumed by the Agent Engine's tool ranking step.
func (c *Client) DeprecatedTools(ctx context.Context) (map[string]bool, error) {
	ratings, err := c.AllToolRatings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, r := range ratings {
		if r.Deprecated {
			out[r.ToolName] = true
		}
	}
	return out, nil
}
