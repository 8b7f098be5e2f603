// Package sentinel is the Sentinel command-safety classifier: a three-tier
// gate evaluated before any internal tool call that shells out or otherwise
// acts on the host is allowed to execute. Tier 1 is a fast binary
// whitelist, Tier 2 a learned-pattern table persisted to sentinel_rules
// (approved patterns checked before blocked), Tier 3 an LLM audit with a
// strict fail-closed timeout.
package sentinel

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
)

// AuditTimeout is the strict Tier-3 LLM audit deadline. A deadline overrun is
// treated identically to an audit error: command blocked.
const AuditTimeout = 3 * time.Second

// Tier1Binaries are commands whose first token is a known-safe, read-only
// binary; a Tier-1 hit also requires the command carry no pipe/shell
// chaining, since "ls; rm -rf /" starts with a safe binary but isn't one.
var Tier1Binaries = map[string]bool{
	"ls": true, "pwd": true, "grep": true, "cat": true, "echo": true,
	"whoami": true, "date": true, "find": true, "uptime": true,
	"head": true, "tail": true, "wc": true, "sort": true, "uniq": true,
	"tree": true,
}

// gitReadOnlySubcommands lets "git status"/"git log"/"git diff" through
// Tier 1 without whitelisting the entire git binary.
var gitReadOnlySubcommands = map[string]bool{"status": true, "log": true, "diff": true}

// Verdict is the outcome of an Evaluate call.
type Verdict struct {
	Allowed bool
	Reason  string
	Tier    int // 1, 2, or 3
}

// Auditor performs the Tier-3 semantic safety check, normally an HTTP call
// to a fast local classifier model. Kept as an interface so pkg/sentinel
// never imports pkg/agent.
type Auditor interface {
	AuditCommand(ctx context.Context, command string) (safe bool, reason string, err error)
}

// RuleStore is the persistence surface Sentinel needs from
// internal/statestore, narrowed to an interface so tests can fake the
// sentinel_rules table without a live Postgres connection.
type RuleStore interface {
	AllSentinelRules(ctx context.Context) ([]statestore.SentinelRule, error)
	AddSentinelRule(ctx context.Context, pattern string, allowed bool, reason, source string) error
}

// Sentinel holds the in-memory Tier-2 rule cache plus the Tier-3 auditor.
type Sentinel struct {
	store   RuleStore
	auditor Auditor
	logger  *slog.Logger

	mu       sync.RWMutex
	approved []compiledRule
	blocked  []compiledRule
}

type compiledRule struct {
	re     *regexp.Regexp
	reason string
}

// New constructs a Sentinel; callers must call ReloadRules once before the
// first Evaluate to populate the Tier-2 cache (also done by the periodic
// sentinel_rule_reload task).
func New(store RuleStore, auditor Auditor, logger *slog.Logger) *Sentinel {
	return &Sentinel{store: store, auditor: auditor, logger: logger}
}

// ReloadRules refreshes the in-memory Tier-2 cache from sentinel_rules;
// the state store is the single source of truth.
func (s *Sentinel) ReloadRules(ctx context.Context) error {
	rules, err := s.store.AllSentinelRules(ctx)
	if err != nil {
		return fmt.Errorf("sentinel: reload rules: %w", err)
	}

	var approved, blocked []compiledRule
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			s.logger.Warn("sentinel: skipping uncompilable learned pattern", "pattern", r.Pattern, "error", err)
			continue
		}
		reason := ""
		if r.Reason != nil {
			reason = *r.Reason
		}
		rule := compiledRule{re: re, reason: reason}
		if r.Allowed {
			approved = append(approved, rule)
		} else {
			blocked = append(blocked, rule)
		}
	}

	s.mu.Lock()
	s.approved = approved
	s.blocked = blocked
	s.mu.Unlock()
	return nil
}

// Evaluate runs the three-tier strategy against a command string.
func (s *Sentinel) Evaluate(ctx context.Context, command string) Verdict {
	cmd := strings.TrimSpace(command)

	if v, ok := s.tier1(cmd); ok {
		return v
	}
	if v, ok := s.tier2(cmd); ok {
		return v
	}
	return s.tier3(ctx, cmd)
}

func (s *Sentinel) tier1(cmd string) (Verdict, bool) {
	if strings.ContainsAny(cmd, ";|&") {
		return Verdict{}, false
	}
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return Verdict{}, false
	}
	binary := fields[0]
	if Tier1Binaries[binary] {
		return Verdict{Allowed: true, Reason: "Tier 1: safe binary", Tier: 1}, true
	}
	if binary == "git" && len(fields) >= 2 && gitReadOnlySubcommands[fields[1]] {
		return Verdict{Allowed: true, Reason: "Tier 1: read-only git subcommand", Tier: 1}, true
	}
	return Verdict{}, false
}

func (s *Sentinel) tier2(cmd string) (Verdict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Approved checked first: a pattern that is both approved and blocked
	// (a later conflicting Learn call) favors the allow.
	for _, rule := range s.approved {
		if rule.re.MatchString(cmd) {
			return Verdict{Allowed: true, Reason: "Tier 2: " + rule.reason, Tier: 2}, true
		}
	}
	for _, rule := range s.blocked {
		if rule.re.MatchString(cmd) {
			return Verdict{Allowed: false, Reason: "Tier 2 BLOCKED: " + rule.reason, Tier: 2}, true
		}
	}
	return Verdict{}, false
}

func (s *Sentinel) tier3(ctx context.Context, cmd string) Verdict {
	if s.auditor == nil {
		return Verdict{Allowed: false, Reason: "Sentinel offline: no Tier-3 auditor configured", Tier: 3}
	}

	auditCtx, cancel := context.WithTimeout(ctx, AuditTimeout)
	defer cancel()

	safe, reason, err := s.auditor.AuditCommand(auditCtx, cmd)
	if err != nil {
		s.logger.Warn("sentinel: tier-3 audit failed, failing closed", "command", cmd, "error", err)
		return Verdict{Allowed: false, Reason: "Tier 3 audit error: " + err.Error(), Tier: 3}
	}
	if safe {
		return Verdict{Allowed: true, Reason: "Tier 3: audited safe", Tier: 3}
	}
	return Verdict{Allowed: false, Reason: "Tier 3 FLAGGED: " + reason, Tier: 3}
}

// Learn persists a new Tier-2 rule (manual override or a Tier-3 verdict the
// operator chooses to memoize) and refreshes the in-memory cache.
func (s *Sentinel) Learn(ctx context.Context, pattern string, allowed bool, reason, source string) error {
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("sentinel: learn: invalid pattern: %w", err)
	}
	if err := s.store.AddSentinelRule(ctx, pattern, allowed, reason, source); err != nil {
		return fmt.Errorf("sentinel: learn: %w", err)
	}
	return s.ReloadRules(ctx)
}
