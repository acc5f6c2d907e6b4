package types

import (
	"encoding/json"
	"testing"
)

func TestParseGoalSpecVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind GoalKind
	}{
		{
			name: "hodl token",
			raw:  `{"kind":"hodl_token","hodlToken":{"chain":"solana","tokenMint":"So11111111111111111111111111111111111111112","minBalance":1000000}}`,
			kind: GoalHodlToken,
		},
		{
			name: "daily tx count",
			raw:  `{"kind":"daily_tx_count","dailyTxCount":{"minCountPerDay":3}}`,
			kind: GoalDailyTxCount,
		},
		{
			name: "external activity",
			raw:  `{"kind":"external_activity","externalActivity":{"provider":"github","minEventsPerDay":1}}`,
			kind: GoalExternalActivity,
		},
		{
			name: "evidence upload",
			raw:  `{"kind":"evidence_upload","evidenceUpload":{"habitName":"morning run","maxQuantity":2}}`,
			kind: GoalEvidenceUpload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			goal, err := ParseGoalSpec([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseGoalSpec failed: %v", err)
			}
			if goal.Kind != tt.kind {
				t.Errorf("Expected kind %q, got %q", tt.kind, goal.Kind)
			}

			encoded, err := json.Marshal(goal)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			again, err := ParseGoalSpec(encoded)
			if err != nil {
				t.Fatalf("Re-parse failed: %v", err)
			}
			if again.Kind != goal.Kind {
				t.Errorf("Round-trip changed kind: %q -> %q", goal.Kind, again.Kind)
			}
		})
	}
}

func TestParseGoalSpecRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown kind", `{"kind":"mystery"}`},
		{"no variant", `{"kind":"hodl_token"}`},
		{"two variants", `{"kind":"hodl_token","hodlToken":{"chain":"solana","tokenMint":"x","minBalance":1},"dailyTxCount":{"minCountPerDay":1}}`},
		{"kind variant mismatch", `{"kind":"hodl_token","dailyTxCount":{"minCountPerDay":1}}`},
		{"hodl missing mint", `{"kind":"hodl_token","hodlToken":{"chain":"solana","minBalance":1}}`},
		{"hodl zero balance", `{"kind":"hodl_token","hodlToken":{"chain":"solana","tokenMint":"x","minBalance":0}}`},
		{"hodl unsupported chain", `{"kind":"hodl_token","hodlToken":{"chain":"dogecoin","tokenMint":"x","minBalance":1}}`},
		{"tx count zero", `{"kind":"daily_tx_count","dailyTxCount":{"minCountPerDay":0}}`},
		{"external missing provider", `{"kind":"external_activity","externalActivity":{"minEventsPerDay":1}}`},
		{"evidence missing habit", `{"kind":"evidence_upload","evidenceUpload":{}}`},
		{"malformed json", `{"kind":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseGoalSpec([]byte(tt.raw)); err == nil {
				t.Errorf("Expected error for %s", tt.raw)
			}
		})
	}
}
