package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Provider:  ProviderConfig{BaseURL: "http://localhost:10086", Timeout: 5 * time.Second, RatePerSecond: 10},
		Discovery: DiscoveryConfig{Interval: 10 * time.Second},
		Classes: ClassesConfig{
			LiveStats: DefaultIntervals[ClassLiveStats],
			Circle:    DefaultIntervals[ClassCircle],
			Backpack:  DefaultIntervals[ClassBackpack],
		},
		Store: StoreConfig{Driver: "memory"},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Classes.Circle.Initial = time.Minute
	cfg.Classes.Backpack.Step = 0
	cfg.Provider.BaseURL = "localhost"
	cfg.Store.Driver = "mongo"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	if len(verrs.InvalidIntervals) != 2 {
		t.Errorf("expected 2 interval problems, got %d: %+v", len(verrs.InvalidIntervals), verrs.InvalidIntervals)
	}
	if len(verrs.InvalidSettings) != 2 {
		t.Errorf("expected 2 setting problems, got %d: %v", len(verrs.InvalidSettings), verrs.InvalidSettings)
	}

	msg := err.Error()
	for _, want := range []string{"circle: initial_interval", "backpack: step", "provider.base_url", "store.driver"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to mention %q:\n%s", want, msg)
		}
	}
}

func TestValidateNotifyRequiresTopic(t *testing.T) {
	cfg := validConfig()
	cfg.Notify = NotifyConfig{Enabled: true, Priority: "default", FailureThreshold: 3}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "notify.topic") {
		t.Fatalf("expected notify.topic error, got %v", err)
	}
}
