package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
)

// StoreBankLoader resolves bank privacy settings from config_state rows
// keyed "bank:<kb_id>", value {"is_private": bool, "owner": string}. A
// missing row means the bank is public.
type StoreBankLoader struct {
	Store *statestore.Store
}

// BankConfig implements BankConfigLoader.
func (l StoreBankLoader) BankConfig(ctx context.Context, kbID string) (bool, string, error) {
	item, err := l.Store.GetConfig(ctx, "bank:"+kbID)
	if err != nil {
		return false, "", err
	}
	if item == nil {
		return false, "", nil
	}
	var cfg struct {
		IsPrivate bool   `json:"is_private"`
		Owner     string `json:"owner"`
	}
	if err := json.Unmarshal(item.Value, &cfg); err != nil {
		return false, "", err
	}
	return cfg.IsPrivate, cfg.Owner, nil
}
