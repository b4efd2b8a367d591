package seed

import (
	"testing"

	"github.com/smallbiznis/tontine/internal/config"
	"github.com/smallbiznis/tontine/internal/dbtest"
)

func TestEnsureBootstrapAgentIsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	cfg := config.BootstrapConfig{AgentName: " Koffi ", AgentPhone: "22990000001"}

	if err := EnsureBootstrapAgent(db, cfg); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	if err := EnsureBootstrapAgent(db, cfg); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	dbtest.AssertCount(t, db, "agents", "phone = ? AND name = ? AND status = 'active'", 1, "22990000001", "Koffi")
}

func TestEnsureBootstrapAgentRequiresPhone(t *testing.T) {
	db := dbtest.Open(t)
	if err := EnsureBootstrapAgent(db, config.BootstrapConfig{}); err == nil {
		t.Fatalf("expected error for empty phone")
	}
	if err := EnsureBootstrapAgent(nil, config.BootstrapConfig{AgentPhone: "1"}); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
