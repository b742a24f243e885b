package api

import (
	"context"
	"encoding/json"
	"fmt"

	apierrors "github.com/propnest/marketsync/client/internal/errors"
	"github.com/propnest/marketsync/client/internal/types"
)

// ListProperties returns the role's listings.
func ListProperties(ctx context.Context, d Doer, role types.Role) ([]types.Property, error) {
	ep := fmt.Sprintf("%s/properties", role)
	data, err := payload(get(ctx, d, ep, nil), "GET "+ep)
	if err != nil {
		return nil, err
	}
	list, err := types.DecodeList[types.Property](data, "properties", "items")
	if err != nil {
		return nil, apierrors.NewParseError("GET "+ep, err)
	}
	return list, nil
}

// GetStats returns the partial aggregate reported by the stats endpoint.
func GetStats(ctx context.Context, d Doer, role types.Role) (types.StatsOverride, error) {
	ep := fmt.Sprintf("%s/stats", role)
	data, err := payload(get(ctx, d, ep, nil), "GET "+ep)
	if err != nil {
		return types.StatsOverride{}, err
	}
	var wrapped struct {
		Stats json.RawMessage `json:"stats"`
	}
	if json.Unmarshal(data, &wrapped) == nil && len(wrapped.Stats) > 0 && wrapped.Stats[0] == '{' {
		data = wrapped.Stats
	}
	var o types.StatsOverride
	if err := json.Unmarshal(data, &o); err != nil {
		return types.StatsOverride{}, apierrors.NewParseError("GET "+ep, err)
	}
	return o, nil
}
