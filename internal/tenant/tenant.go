// Package tenant is the Tenant Manager: organizations, plans, quotas,
// feature flags, and counter resets. It loads every org into memory at
// startup and keeps that map authoritative. Usage updates go through the
// Store's write-behind buffer; other mutations write to the Store directly.
//
// Grounded on the teacher's internal/multitenancy/tenant_manager.go,
// generalized from a thin Supabase-client wrapper to an in-memory map over
// internal/store, keeping the teacher's bcrypt API-key issuance
// (CreateAPIKey/ValidateAPIKey, "ocx_<id>.<secret>" format) as the
// credential the control plane attaches tenant context to.
package tenant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
)

// PlanLimits is the per-plan quota template seeded onto a new Organization,
// grounded on the teacher's internal/governance/tenant_config.go
// DefaultConfig(tenantID) pattern, generalized from one governance blob to
// four named plan templates.
var PlanLimits = map[model.Plan]model.OrgLimits{
	model.PlanFree: {
		MaxAgents: 2, MaxUsers: 3, MaxKnowledgeBases: 1, MaxStorageMb: 512,
		TokenBudgetMonthly: 500_000, CostBudgetMonthly: 10,
		APICallsPerMinute: 30, DeploymentTargets: []string{string(model.TargetLocal)},
		Features: []string{},
	},
	model.PlanTeam: {
		MaxAgents: 20, MaxUsers: 25, MaxKnowledgeBases: 10, MaxStorageMb: 20_480,
		TokenBudgetMonthly: 10_000_000, CostBudgetMonthly: 500,
		APICallsPerMinute: 120, DeploymentTargets: []string{string(model.TargetLocal), string(model.TargetDocker), string(model.TargetSystemd), string(model.TargetVPS)},
		Features: []string{"workforce_scheduler", "communication_observer"},
	},
	model.PlanEnterprise: {
		MaxAgents: 0, MaxUsers: 0, MaxKnowledgeBases: 0, MaxStorageMb: 0,
		TokenBudgetMonthly: 0, CostBudgetMonthly: 0,
		APICallsPerMinute: 600, DeploymentTargets: []string{
			string(model.TargetLocal), string(model.TargetDocker), string(model.TargetSystemd), string(model.TargetVPS),
			string(model.TargetFly), string(model.TargetRailway), string(model.TargetAWS), string(model.TargetGCP), string(model.TargetAzure),
		},
		Features: []string{"workforce_scheduler", "communication_observer", "custom_policies", "sso"},
	},
	model.PlanSelfHosted: {
		MaxAgents: 0, MaxUsers: 0, MaxKnowledgeBases: 0, MaxStorageMb: 0,
		TokenBudgetMonthly: 0, CostBudgetMonthly: 0,
		APICallsPerMinute: 0, DeploymentTargets: []string{
			string(model.TargetLocal), string(model.TargetDocker), string(model.TargetSystemd), string(model.TargetVPS),
			string(model.TargetFly), string(model.TargetRailway), string(model.TargetAWS), string(model.TargetGCP), string(model.TargetAzure),
		},
		Features: []string{"workforce_scheduler", "communication_observer", "custom_policies"},
	},
}

// DefaultOrgID is the single-tenant bootstrap org's fixed id/slug.
const DefaultOrgID = "default"

var ErrDuplicateSlug = errors.New("tenant: slug already in use")
var ErrOrgNotFound = errors.New("tenant: organization not found")

// LimitCheck is the result of checkLimit.
type LimitCheck struct {
	Allowed   bool
	Limit     int64
	Current   int64
	Remaining int64
}

// UsageDelta is a partial usage update: Add* fields are additive counters,
// SetStorageMb is an absolute value (storage is measured, not accumulated).
type UsageDelta struct {
	AddTokens      int64
	AddCost        float64
	AddAPICalls    int64
	AddDeployments int64
	SetStorageMb   *int64
	SetAgents      *int64
}

// Manager is the Tenant Manager. Every lookup is O(1) against the
// in-memory map; usage updates persist through the Store's write-behind
// buffer, org creation and plan changes are written synchronously.
type Manager struct {
	st *store.Store

	mu      sync.RWMutex
	byID    map[string]*model.Organization
	bySlug  map[string]string // slug -> id
}

// New loads every organization from st into memory.
func New(ctx context.Context, st *store.Store) (*Manager, error) {
	m := &Manager{
		st:     st,
		byID:   make(map[string]*model.Organization),
		bySlug: make(map[string]string),
	}
	orgs, err := st.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("tenant: load orgs: %w", err)
	}
	for _, o := range orgs {
		m.byID[o.ID] = o
		m.bySlug[o.Slug] = o.ID
	}
	return m, nil
}

// CreateOrg creates a new organization, rejecting a duplicate slug.
func (m *Manager) CreateOrg(ctx context.Context, id, name, slug string, plan model.Plan) (*model.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySlug[slug]; exists {
		return nil, ErrDuplicateSlug
	}

	now := time.Now().UTC()
	org := &model.Organization{
		ID:        id,
		Slug:      slug,
		Name:      name,
		Plan:      plan,
		Limits:    PlanLimits[plan],
		Usage:     model.OrgUsage{},
		Settings:  map[string]interface{}{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.st.UpsertOrganization(ctx, org); err != nil {
		return nil, err
	}
	m.byID[org.ID] = org
	m.bySlug[org.Slug] = org.ID
	return org, nil
}

// CreateDefaultOrg installs the default/self-hosted org for single-tenant
// mode. Idempotent.
func (m *Manager) CreateDefaultOrg(ctx context.Context) (*model.Organization, error) {
	m.mu.RLock()
	existing, ok := m.byID[DefaultOrgID]
	m.mu.RUnlock()
	if ok {
		return existing, nil
	}
	return m.CreateOrg(ctx, DefaultOrgID, "Default Organization", DefaultOrgID, model.PlanSelfHosted)
}

// GetOrg returns the in-memory organization by id.
func (m *Manager) GetOrg(orgID string) (*model.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.byID[orgID]
	if !ok {
		return nil, ErrOrgNotFound
	}
	return org, nil
}

// GetOrgBySlug returns the in-memory organization by slug.
func (m *Manager) GetOrgBySlug(slug string) (*model.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySlug[slug]
	if !ok {
		return nil, ErrOrgNotFound
	}
	return m.byID[id], nil
}

// ListOrgs returns every organization, order unspecified.
func (m *Manager) ListOrgs() []*model.Organization {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Organization, 0, len(m.byID))
	for _, o := range m.byID {
		out = append(out, o)
	}
	return out
}

// DeleteOrg removes an organization from memory and the store.
func (m *Manager) DeleteOrg(ctx context.Context, orgID string) error {
	m.mu.Lock()
	org, ok := m.byID[orgID]
	if !ok {
		m.mu.Unlock()
		return ErrOrgNotFound
	}
	delete(m.byID, orgID)
	delete(m.bySlug, org.Slug)
	m.mu.Unlock()
	return m.st.DeleteOrganization(ctx, orgID)
}

// CheckLimit evaluates orgId's quota for resource. limit == 0 means
// unlimited. current, when omitted (0 passed with useCurrent=false), falls
// back to the org's own usage counter for the matching resource.
func (m *Manager) CheckLimit(orgID, resource string, current int64, useCurrent bool) (LimitCheck, error) {
	m.mu.RLock()
	org, ok := m.byID[orgID]
	m.mu.RUnlock()
	if !ok {
		return LimitCheck{}, ErrOrgNotFound
	}

	var limit, cur int64
	switch resource {
	case "agents":
		limit = int64(org.Limits.MaxAgents)
		cur = org.Usage.Agents
	case "tokens":
		limit = org.Limits.TokenBudgetMonthly
		cur = org.Usage.TokensThisMonth
	case "cost":
		limit = int64(org.Limits.CostBudgetMonthly)
		cur = int64(org.Usage.CostThisMonth)
	case "apiCalls":
		limit = int64(org.Limits.APICallsPerMinute)
		cur = org.Usage.APICallsToday
	case "deployments":
		limit = 0
		cur = org.Usage.DeploymentsThisMonth
	case "storage":
		limit = org.Limits.MaxStorageMb
		cur = org.Usage.StorageMb
	case "users":
		limit = int64(org.Limits.MaxUsers)
		cur = 0
	case "knowledgeBases":
		limit = int64(org.Limits.MaxKnowledgeBases)
		cur = 0
	default:
		return LimitCheck{}, fmt.Errorf("tenant: unknown resource %q", resource)
	}
	if useCurrent {
		cur = current
	}

	if limit == 0 {
		return LimitCheck{Allowed: true, Limit: 0, Current: cur, Remaining: -1}, nil
	}
	remaining := limit - cur
	return LimitCheck{Allowed: cur < limit, Limit: limit, Current: cur, Remaining: remaining}, nil
}

// HasFeature reports whether orgId's plan enables feature.
func (m *Manager) HasFeature(orgID, feature string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.byID[orgID]
	if !ok {
		return false
	}
	for _, f := range org.Limits.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// CanDeployTo reports whether orgId's plan allows deployment target.
func (m *Manager) CanDeployTo(orgID, target string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.byID[orgID]
	if !ok {
		return false
	}
	for _, t := range org.Limits.DeploymentTargets {
		if t == target {
			return true
		}
	}
	return false
}

// RecordUsage applies delta to orgId's usage counters and queues the org
// for a write-behind flush.
func (m *Manager) RecordUsage(ctx context.Context, orgID string, delta UsageDelta) error {
	m.mu.Lock()
	org, ok := m.byID[orgID]
	if !ok {
		m.mu.Unlock()
		return ErrOrgNotFound
	}
	org.Usage.TokensThisMonth += delta.AddTokens
	org.Usage.CostThisMonth += delta.AddCost
	org.Usage.APICallsToday += delta.AddAPICalls
	org.Usage.DeploymentsThisMonth += delta.AddDeployments
	if delta.SetStorageMb != nil {
		org.Usage.StorageMb = *delta.SetStorageMb
	}
	if delta.SetAgents != nil {
		org.Usage.Agents = *delta.SetAgents
	}
	org.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()

	m.st.WriteBehind().MarkDirty("org:"+orgID, func(ctx context.Context) error {
		return m.st.UpsertOrganization(ctx, org)
	})
	return nil
}

// ChangePlan rewrites orgId's limits from the plan template.
func (m *Manager) ChangePlan(ctx context.Context, orgID string, newPlan model.Plan) error {
	m.mu.Lock()
	org, ok := m.byID[orgID]
	if !ok {
		m.mu.Unlock()
		return ErrOrgNotFound
	}
	org.Plan = newPlan
	org.Limits = PlanLimits[newPlan]
	org.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	return m.st.UpsertOrganization(ctx, org)
}

// ResetDailyCounters zeroes apiCallsToday across every org. Invoked by the
// Workforce Scheduler's cron tick, deduped by UTC date key upstream.
func (m *Manager) ResetDailyCounters(ctx context.Context) error {
	return m.resetAll(ctx, func(u *model.OrgUsage) { u.APICallsToday = 0 })
}

// ResetWeeklyCounters is a placeholder hook for weekly-scoped counters;
// none are currently tracked beyond the monthly/daily ones, kept for
// symmetry with the scheduler's Monday tick.
func (m *Manager) ResetWeeklyCounters(ctx context.Context) error {
	return nil
}

// ResetMonthlyCounters zeroes tokensThisMonth/costThisMonth/deploymentsThisMonth
// across every org.
func (m *Manager) ResetMonthlyCounters(ctx context.Context) error {
	return m.resetAll(ctx, func(u *model.OrgUsage) {
		u.TokensThisMonth = 0
		u.CostThisMonth = 0
		u.DeploymentsThisMonth = 0
	})
}

// ResetAnnualCounters is a placeholder hook for annual-scoped counters,
// kept for symmetry with the scheduler's Jan-1 tick.
func (m *Manager) ResetAnnualCounters(ctx context.Context) error {
	return nil
}

func (m *Manager) resetAll(ctx context.Context, reset func(*model.OrgUsage)) error {
	m.mu.Lock()
	orgs := make([]*model.Organization, 0, len(m.byID))
	for _, o := range m.byID {
		reset(&o.Usage)
		o.UpdatedAt = time.Now().UTC()
		orgs = append(orgs, o)
	}
	m.mu.Unlock()

	for _, o := range orgs {
		if err := m.st.UpsertOrganization(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// API KEY MANAGEMENT
// ============================================================================

// CreateAPIKey creates a new API key with format ocx_<id>.<secret>. Only
// the bcrypt hash of secret is persisted.
func (m *Manager) CreateAPIKey(ctx context.Context, orgID, name string, scopes []string) (*model.APIKey, string, error) {
	if _, err := m.GetOrg(orgID); err != nil {
		return nil, "", err
	}

	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, "", err
	}
	keyID := hex.EncodeToString(idBytes)

	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", err
	}
	secret := hex.EncodeToString(secretBytes)
	fullKey := fmt.Sprintf("ocx_%s.%s", keyID, secret)

	secretHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	key := &model.APIKey{
		ID:         keyID,
		OrgID:      orgID,
		Name:       name,
		SecretHash: string(secretHash),
		Scopes:     scopes,
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.st.UpsertAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, fullKey, nil
}

// ValidateAPIKey parses and verifies fullKey, returning the Organization it
// is scoped to.
func (m *Manager) ValidateAPIKey(ctx context.Context, fullKey string) (*model.Organization, error) {
	if !strings.HasPrefix(fullKey, "ocx_") {
		return nil, errors.New("tenant: invalid key format")
	}
	parts := strings.SplitN(strings.TrimPrefix(fullKey, "ocx_"), ".", 2)
	if len(parts) != 2 {
		return nil, errors.New("tenant: invalid key format")
	}
	keyID, secret := parts[0], parts[1]

	key, err := m.st.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("tenant: lookup failed: %w", err)
	}
	if !key.IsActive {
		return nil, errors.New("tenant: api key inactive")
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, errors.New("tenant: api key expired")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		return nil, errors.New("tenant: invalid api key secret")
	}

	return m.GetOrg(key.OrgID)
}

// ============================================================================
// CONTEXT HELPERS
// ============================================================================

type contextKey string

const (
	orgIDKey  contextKey = "org_id"
	userIDKey contextKey = "user_id"
)

// WithOrg attaches orgID to ctx.
func WithOrg(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDKey, orgID)
}

// OrgFromContext extracts the org id attached by WithOrg.
func OrgFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(orgIDKey).(string)
	if !ok || id == "" {
		return "", errors.New("tenant: org context missing")
	}
	return id, nil
}

// WithUser attaches the acting user id to ctx — populated by the tenant
// middleware from the X-User-Id header.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserFromContext extracts the acting user id attached by WithUser.
func UserFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(userIDKey).(string)
	if !ok || id == "" {
		return "", errors.New("tenant: user context missing")
	}
	return id, nil
}
