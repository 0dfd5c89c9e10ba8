// SPDX-License-Identifier: Apache-2.0

// Package policy holds the per-run configuration snapshot. A snapshot is
// loaded once before a pipeline run and never mutated afterward; changing
// policy means loading a new snapshot for the next run.
//
// Zero values are the safe values: an absent write-gate section denies every
// write, an absent scope section denies every tenant, and an absent
// auto-execution section disables auto mode. Normalize only fills in
// operational defaults (paths, timeouts), never permissive ones.
package policy

import (
	"fmt"
	"time"

	"github.com/liyecom/liye-ai-sub006/internal/core/canon"
	"github.com/liyecom/liye-ai-sub006/internal/core/format"
)

const (
	// ReviewerAutoPolicy is recorded as the reviewer on approval records the
	// pipeline creates itself for auto_if_safe proposals.
	ReviewerAutoPolicy = "system:auto-policy"

	// ScopeWildcard in a scope allowlist matches every identifier at that
	// level. It must be written explicitly; empty lists deny.
	ScopeWildcard = "*"

	defaultProfileName       = "balanced"
	defaultRollbackWindowHrs = 72
	defaultRemoteTimeoutSecs = 10
	defaultReceiptsPath      = "receipts.jsonl"
	defaultApprovalsDBPath   = "approvals.db"
	defaultCounterKeyPrefix  = "adgate"
)

// Counter backends.
const (
	CounterBackendMemory = "memory"
	CounterBackendRedis  = "redis"
)

// Policy is the immutable configuration snapshot for one pipeline run.
type Policy struct {
	AutoExecution AutoExecutionPolicy     `yaml:"auto_execution" json:"auto_execution"`
	Eligibility   EligibilityConfig       `yaml:"eligibility" json:"eligibility"`
	SafetyLimits  map[string]SafetyLimits `yaml:"safety_limits" json:"safety_limits"`
	WriteGate     WriteGateConfig         `yaml:"write_gate" json:"write_gate"`
	Scopes        map[string]Scope        `yaml:"scopes" json:"scopes"`
	Rollback      RollbackConfig          `yaml:"rollback" json:"rollback"`
	Remote        RemoteConfig            `yaml:"remote" json:"remote"`
	Counters      CountersConfig          `yaml:"counters" json:"counters"`
	Receipts      ReceiptsConfig          `yaml:"receipts" json:"receipts"`
	Approvals     ApprovalsConfig         `yaml:"approvals" json:"approvals"`

	id string
}

// AutoExecutionPolicy is the global switch for auto_if_safe proposals.
type AutoExecutionPolicy struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	AllowActions []string `yaml:"allow_actions" json:"allow_actions"`
}

// Allows reports whether actionID may keep auto_if_safe mode.
func (a AutoExecutionPolicy) Allows(actionID string) bool {
	if !a.Enabled {
		return false
	}
	for _, id := range a.AllowActions {
		if id == actionID {
			return true
		}
	}
	return false
}

// EligibilityConfig names the threshold profiles and the legacy flat
// threshold set used when no profiles are configured.
type EligibilityConfig struct {
	DefaultProfile   string             `yaml:"default_profile" json:"default_profile"`
	Profiles         map[string]Profile `yaml:"profiles" json:"profiles"`
	LegacyThresholds map[string]float64 `yaml:"legacy_thresholds" json:"legacy_thresholds"`
}

// Profile is one named risk profile. Threshold keys carry their operator as
// a suffix (wasted_spend_ratio_gte, clicks_lte, ...). Guard is an optional
// CEL expression over the signal map; it must also hold for eligibility.
type Profile struct {
	Thresholds map[string]float64 `yaml:"thresholds" json:"thresholds"`
	Guard      string             `yaml:"guard,omitempty" json:"guard,omitempty"`
}

// SafetyLimits are the hard bounds for one action type.
type SafetyLimits struct {
	MaxPerRun         int      `yaml:"max_per_run" json:"max_per_run"`
	MaxPerDay         int      `yaml:"max_per_day" json:"max_per_day"`
	MinTermLength     int      `yaml:"min_term_length" json:"min_term_length"`
	ForbiddenTerms    []string `yaml:"forbidden_terms" json:"forbidden_terms"`
	AllowedMatchTypes []string `yaml:"allowed_match_types" json:"allowed_match_types"`
}

// WriteGateConfig configures the four gate layers.
type WriteGateConfig struct {
	Global        GlobalWriteConfig `yaml:"global" json:"global"`
	ToolAllowlist []string          `yaml:"tool_allowlist" json:"tool_allowlist"`
	Thresholds    BidThresholds     `yaml:"thresholds" json:"thresholds"`
}

// GlobalWriteConfig is the master switch. The zero value denies.
type GlobalWriteConfig struct {
	WriteEnabledDefault bool `yaml:"write_enabled_default" json:"write_enabled_default"`
}

// BidThresholds bound magnitude-bearing actions. Zero bounds deny any
// magnitude-bearing step.
type BidThresholds struct {
	MaxBidDeltaAbsolute float64 `yaml:"max_bid_delta_absolute" json:"max_bid_delta_absolute"`
	MaxBidDeltaRelative float64 `yaml:"max_bid_delta_relative" json:"max_bid_delta_relative"`
}

// Scope is one tenant's allowlist. "*" entries are explicit wildcards; an
// empty list denies everything at that level.
type Scope struct {
	ProfileIDs  []string `yaml:"profile_ids" json:"profile_ids"`
	CampaignIDs []string `yaml:"campaign_ids" json:"campaign_ids"`
	AdGroupIDs  []string `yaml:"adgroup_ids" json:"adgroup_ids"`
}

// RollbackConfig bounds how long a derived rollback stays executable.
type RollbackConfig struct {
	WindowHours int `yaml:"window_hours" json:"window_hours"`
}

// Window returns the rollback validity window as a duration.
func (r RollbackConfig) Window() time.Duration {
	return time.Duration(r.WindowHours) * time.Hour
}

// RemoteConfig points at the external ads API bridge.
type RemoteConfig struct {
	Endpoint       string `yaml:"endpoint" json:"endpoint"`
	AuthToken      string `yaml:"auth_token,omitempty" json:"auth_token,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Timeout returns the per-call deadline for remote calls.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// CountersConfig selects the per-day counter backend.
type CountersConfig struct {
	Backend   string      `yaml:"backend" json:"backend"`
	KeyPrefix string      `yaml:"key_prefix" json:"key_prefix"`
	Redis     RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig is used only when Backend is "redis".
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db" json:"db"`
}

// ReceiptsConfig locates the append-only receipt log.
type ReceiptsConfig struct {
	Path string `yaml:"path" json:"path"`
}

// ApprovalsConfig locates the approval-record database.
type ApprovalsConfig struct {
	DBPath string `yaml:"db_path" json:"db_path"`
}

// Load reads a policy file (YAML or JSON), applies operational defaults, and
// computes the snapshot ID.
func Load(path string) (*Policy, error) {
	p := &Policy{}
	if err := format.ParseFile(path, p); err != nil {
		return nil, fmt.Errorf("error loading policy: %w", err)
	}
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// Default returns a snapshot with only operational defaults set. All gating
// stays denied.
func Default() *Policy {
	p := &Policy{}
	// Normalize on a zero policy cannot fail.
	_ = p.Normalize()
	return p
}

// Normalize fills operational defaults and recomputes the snapshot ID. Tests
// that build policies in code must call it before use.
func (p *Policy) Normalize() error {
	if p.Eligibility.DefaultProfile == "" {
		p.Eligibility.DefaultProfile = defaultProfileName
	}
	if p.Rollback.WindowHours <= 0 {
		p.Rollback.WindowHours = defaultRollbackWindowHrs
	}
	if p.Remote.TimeoutSeconds <= 0 {
		p.Remote.TimeoutSeconds = defaultRemoteTimeoutSecs
	}
	if p.Counters.Backend == "" {
		p.Counters.Backend = CounterBackendMemory
	}
	if p.Counters.KeyPrefix == "" {
		p.Counters.KeyPrefix = defaultCounterKeyPrefix
	}
	if p.Receipts.Path == "" {
		p.Receipts.Path = defaultReceiptsPath
	}
	if p.Approvals.DBPath == "" {
		p.Approvals.DBPath = defaultApprovalsDBPath
	}

	id, err := canon.Hash(p)
	if err != nil {
		return fmt.Errorf("error computing policy snapshot ID: %w", err)
	}
	p.id = id
	return nil
}

// Validate rejects configurations that cannot be acted on at all. It does
// not try to second-guess gating values: empty allowlists are legal and mean
// deny.
func (p *Policy) Validate() error {
	switch p.Counters.Backend {
	case CounterBackendMemory:
	case CounterBackendRedis:
		if p.Counters.Redis.Addr == "" {
			return fmt.Errorf("counters backend is %q but no redis addr is configured", CounterBackendRedis)
		}
	default:
		return fmt.Errorf("unknown counters backend %q", p.Counters.Backend)
	}
	if p.Rollback.WindowHours < 0 {
		return fmt.Errorf("rollback window hours cannot be negative")
	}
	return nil
}

// ID is the sha256 over the canonical JSON of the snapshot. Receipts carry
// it so every attempt names the exact policy it ran under.
func (p *Policy) ID() string {
	return p.id
}

// ScopeFor returns the tenant's scope allowlist. Missing tenants deny.
func (p *Policy) ScopeFor(tenantID string) (Scope, bool) {
	s, ok := p.Scopes[tenantID]
	return s, ok
}

// LimitsFor returns the safety limits for an action type. Missing entries
// mean the action has no configured envelope and must not run.
func (p *Policy) LimitsFor(actionID string) (SafetyLimits, bool) {
	l, ok := p.SafetyLimits[actionID]
	return l, ok
}

// ProfileFor resolves a named profile, falling back to the default profile
// name when name is empty. The second return is false when no such profile
// exists.
func (p *Policy) ProfileFor(name string) (Profile, string, bool) {
	if name == "" {
		name = p.Eligibility.DefaultProfile
	}
	prof, ok := p.Eligibility.Profiles[name]
	return prof, name, ok
}
