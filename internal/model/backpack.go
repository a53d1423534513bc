package model

import (
	"encoding/json"
	"sort"
	"strings"
)

// BackpackItem is one inventory entry as sent by the provider. The schema is
// open-ended, so items are kept as decoded JSON objects.
type BackpackItem map[string]any

// TeamID returns the numeric TeamID field, or 0.
func (b BackpackItem) TeamID() float64 { return number(b["TeamID"]) }

// PlayerKey returns the numeric PlayerKey field, or 0.
func (b BackpackItem) PlayerKey() float64 { return number(b["PlayerKey"]) }

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

// Identity keeps the fields that say what a player carries: TeamID,
// PlayerKey, every *ID field (weapons, equipment) and the numeric item-id
// keys, whose values are item counts. Counters such as ammo in clip are
// dropped.
func (b BackpackItem) Identity() BackpackItem {
	out := make(BackpackItem, len(b))
	for k, v := range b {
		if k == "PlayerKey" || strings.HasSuffix(k, "ID") || isItemID(k) {
			out[k] = v
		}
	}
	return out
}

func isItemID(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// BackpackIdentities projects every item with Identity.
func BackpackIdentities(items []BackpackItem) []BackpackItem {
	out := make([]BackpackItem, len(items))
	for i, it := range items {
		out[i] = it.Identity()
	}
	return out
}

// SortBackpack orders items by (TeamID, PlayerKey) in place and returns them.
func SortBackpack(items []BackpackItem) []BackpackItem {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].TeamID() != items[j].TeamID() {
			return items[i].TeamID() < items[j].TeamID()
		}
		return items[i].PlayerKey() < items[j].PlayerKey()
	})
	return items
}

// BackpackUpdate is the payload published to a subscriber when its
// inventory changes.
type BackpackUpdate struct {
	MatchDataID      string         `json:"matchDataId"`
	TeamBackPackList []BackpackItem `json:"TeamBackPackList"`
}
