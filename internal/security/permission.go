package security

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"crew/internal/approval"
	"crew/internal/logging"
)

// ActionType identifies the kind of sandbox operation being gated.
type ActionType string

const (
	ActionBash      ActionType = "bash"
	ActionFileWrite ActionType = "file_write"
	ActionFileRead  ActionType = "file_read"
)

// PermissionRequest describes one proposed sandbox action.
type PermissionRequest struct {
	Type       ActionType
	Target     string // command for bash, path for file operations
	WorkingDir string
	Diff       string // optional preview for file writes, shown on escalation
}

// PermissionResult is the policy decision for one request. Stateless per
// call; the manager additionally appends every decision to the audit log.
type PermissionResult struct {
	Allowed bool
	Reason  string
}

// ManagerConfig controls policy evaluation.
type ManagerConfig struct {
	// AcceptRiskLevel is the highest tier allowed without escalation.
	AcceptRiskLevel RiskLevel
	// AutoAccept allows everything not caught by the deny list.
	AutoAccept bool
	// AlwaysAccept commands bypass assessment entirely (exact or prefix match).
	AlwaysAccept []string
	AllowList    []string
	DenyList     []string
	// AuditPath enables the JSONL audit file when non-empty.
	AuditPath string
	// CacheSize bounds the assessment cache; zero selects the default.
	CacheSize int
}

const defaultAssessmentCacheSize = 256

// Manager answers yes/no for a single proposed action by combining the risk
// assessor with policy: bypass lists, the accept threshold, and optional
// interactive escalation.
type Manager struct {
	cfg      ManagerConfig
	assessor *Assessor
	approver approval.Approver
	audit    *AuditLog
	cache    *lru.Cache[string, RiskAssessment]
	logger   logging.Logger
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithApprover installs an interactive escalation path for actions above the
// accept threshold.
func WithApprover(approver approval.Approver) ManagerOption {
	return func(m *Manager) { m.approver = approver }
}

// WithLogger sets the manager's logger.
func WithLogger(logger logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logging.OrNop(logger) }
}

// NewManager creates a permission manager.
func NewManager(cfg ManagerConfig, opts ...ManagerOption) (*Manager, error) {
	if cfg.AcceptRiskLevel == "" {
		cfg.AcceptRiskLevel = RiskMedium
	}
	if !cfg.AcceptRiskLevel.Valid() {
		return nil, fmt.Errorf("invalid accept risk level %q", cfg.AcceptRiskLevel)
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultAssessmentCacheSize
	}
	cache, err := lru.New[string, RiskAssessment](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("assessment cache: %w", err)
	}

	m := &Manager{
		cfg:      cfg,
		assessor: NewAssessor(),
		cache:    cache,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.audit = NewAuditLog(cfg.AuditPath, m.logger)
	return m, nil
}

// Assessor exposes the underlying risk assessor.
func (m *Manager) Assessor() *Assessor {
	return m.assessor
}

// Audit exposes the audit log for inspection.
func (m *Manager) Audit() *AuditLog {
	return m.audit
}

// CheckPermission decides whether the proposed action may proceed. Every
// decision is appended to the audit log, independent of the outcome.
func (m *Manager) CheckPermission(ctx context.Context, req PermissionRequest) PermissionResult {
	result, assessment := m.decide(ctx, req)

	decision := "denied"
	if result.Allowed {
		decision = "allowed"
	}
	m.audit.Append(AuditRecord{
		Action:     string(req.Type),
		Target:     req.Target,
		WorkingDir: req.WorkingDir,
		Decision:   decision,
		Reason:     result.Reason,
		Level:      assessment.Level,
		Score:      assessment.Score,
		Reasons:    assessment.Reasons,
	})
	return result
}

func (m *Manager) decide(ctx context.Context, req PermissionRequest) (PermissionResult, RiskAssessment) {
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return PermissionResult{Allowed: false, Reason: "empty target"}, RiskAssessment{Level: RiskLow}
	}

	if m.onAlwaysAcceptList(target) {
		return PermissionResult{Allowed: true, Reason: "always-accept list"}, RiskAssessment{Level: RiskLow}
	}

	assessment := m.assess(req)

	if m.assessor.IsBlocked(target, m.cfg.DenyList) {
		return PermissionResult{Allowed: false, Reason: "blocked by deny list"}, assessment
	}
	if m.assessor.IsAllowed(target, m.cfg.AllowList) {
		return PermissionResult{Allowed: true, Reason: "allow list"}, assessment
	}

	if m.cfg.AutoAccept || assessment.Level.Rank() <= m.cfg.AcceptRiskLevel.Rank() {
		return PermissionResult{Allowed: true, Reason: fmt.Sprintf("risk %s within threshold", assessment.Level)}, assessment
	}

	if m.approver != nil {
		response, err := m.approver.RequestApproval(ctx, &approval.Request{
			Operation: string(req.Type),
			Target:    target,
			Summary:   fmt.Sprintf("risk %s (score %d) exceeds accepted level %s", assessment.Level, assessment.Score, m.cfg.AcceptRiskLevel),
			Diff:      req.Diff,
			Reasons:   assessment.Reasons,
		})
		if err != nil {
			m.logger.Warn("approval request failed: %v", err)
		} else if response != nil && response.Approved {
			return PermissionResult{Allowed: true, Reason: "approved by user"}, assessment
		}
	}

	reason := fmt.Sprintf("risk level %s exceeds accepted level %s", assessment.Level, m.cfg.AcceptRiskLevel)
	if len(assessment.Reasons) > 0 {
		reason = assessment.Reasons[0]
	}
	return PermissionResult{Allowed: false, Reason: reason}, assessment
}

// assess scores the request, caching bash assessments: assessment is a pure
// function of the command, so repeated commands hit the cache.
func (m *Manager) assess(req PermissionRequest) RiskAssessment {
	key := string(req.Type) + "\x00" + req.Target
	if cached, ok := m.cache.Get(key); ok {
		return cached
	}

	var assessment RiskAssessment
	switch req.Type {
	case ActionFileWrite:
		assessment = m.assessor.AssessPath(req.Target)
	case ActionFileRead:
		assessment = m.assessor.AssessPath(req.Target)
	default:
		assessment = m.assessor.Assess(req.Target)
	}
	m.cache.Add(key, assessment)
	return assessment
}

func (m *Manager) onAlwaysAcceptList(target string) bool {
	for _, entry := range m.cfg.AlwaysAccept {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if target == entry || strings.HasPrefix(target, entry+" ") {
			return true
		}
	}
	return false
}
