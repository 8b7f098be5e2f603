package statestore

import (
	"context"
	"encoding/json"
)

// MCPServerRow mirrors the mcp_server table.
type MCPServerRow struct {
	Name    string
	Command *string
	Args    json.RawMessage
	Env     json.RawMessage
	Enabled bool
	Type    string
}

// UpsertMCPServer writes or replaces an mcp_server row.
func (s *Store) UpsertMCPServer(ctx context.Context, m MCPServerRow) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO mcp_server (name, command, args, env, enabled, type, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (name) DO UPDATE SET
			command = $2, args = $3, env = $4, enabled = $5, type = $6, updated_at = now()`,
		m.Name, m.Command, m.Args, m.Env, m.Enabled, m.Type)
	return err
}

// AllMCPServers returns every mcp_server row.
func (s *Store) AllMCPServers(ctx context.Context) ([]MCPServerRow, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT name, command, args, env, enabled, type FROM mcp_server`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MCPServerRow
	for rows.Next() {
		var m MCPServerRow
		if err := rows.Scan(&m.Name, &m.Command, &m.Args, &m.Env, &m.Enabled, &m.Type); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
