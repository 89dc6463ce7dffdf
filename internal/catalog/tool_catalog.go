// Package catalog is the Tool Catalog: a process-wide immutable index of
// toolId -> {skillId, category, risk, sideEffects[]}, seeded at boot from a
// built-in list plus any dynamically registered skills.
//
// Grounded directly on the teacher's internal/catalog/tool_catalog.go
// (ToolCatalog, mu sync.RWMutex, map[string]*ToolDefinition,
// Register/Get/Delete/List), generalized from the teacher's two-tier
// ActionClass (CLASS_A/CLASS_B) risk model to the four-level
// model.RiskLevel and from a single embedded GovernancePolicy to explicit
// model.SideEffect entries.
package catalog

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ocx/workforce/internal/model"
)

// Catalog is the API-driven registry of tools and their risk metadata.
type Catalog struct {
	mu     sync.RWMutex
	tools  map[string]*model.ToolCatalogEntry
	logger *log.Logger
}

// New creates a catalog seeded with the built-in tool set.
func New() *Catalog {
	c := &Catalog{
		tools:  make(map[string]*model.ToolCatalogEntry),
		logger: log.New(log.Writer(), "[catalog] ", log.LstdFlags),
	}
	c.registerDefaults()
	return c
}

func (c *Catalog) registerDefaults() {
	defaults := []*model.ToolCatalogEntry{
		{ID: "email.send", SkillID: "email", Category: "communication", Risk: model.RiskMedium,
			SideEffects: []model.SideEffect{model.SideEffectSendsEmail}},
		{ID: "message.send", SkillID: "messaging", Category: "communication", Risk: model.RiskLow,
			SideEffects: []model.SideEffect{model.SideEffectSendsMessage}},
		{ID: "sms.send", SkillID: "sms", Category: "communication", Risk: model.RiskMedium,
			SideEffects: []model.SideEffect{model.SideEffectSendsSMS}},
		{ID: "social.post", SkillID: "social", Category: "communication", Risk: model.RiskHigh,
			SideEffects: []model.SideEffect{model.SideEffectPostsSocial}},
		{ID: "code.execute", SkillID: "sandbox", Category: "compute", Risk: model.RiskHigh,
			SideEffects: []model.SideEffect{model.SideEffectRunsCode}},
		{ID: "files.write", SkillID: "filesystem", Category: "storage", Risk: model.RiskMedium,
			SideEffects: []model.SideEffect{model.SideEffectModifiesFiles}},
		{ID: "data.delete", SkillID: "filesystem", Category: "storage", Risk: model.RiskCritical,
			SideEffects: []model.SideEffect{model.SideEffectDeletesData}},
		{ID: "http.request", SkillID: "network", Category: "network", Risk: model.RiskLow,
			SideEffects: []model.SideEffect{model.SideEffectNetworkRequest}},
		{ID: "device.control", SkillID: "iot", Category: "device", Risk: model.RiskHigh,
			SideEffects: []model.SideEffect{model.SideEffectControlsDevice}},
		{ID: "secrets.access", SkillID: "vault", Category: "security", Risk: model.RiskCritical,
			SideEffects: []model.SideEffect{model.SideEffectAccessesSecrets}},
		{ID: "payment.execute", SkillID: "billing", Category: "finance", Risk: model.RiskCritical,
			SideEffects: []model.SideEffect{model.SideEffectFinancial}},
		{ID: "records.search", SkillID: "search", Category: "read", Risk: model.RiskLow, SideEffects: nil},
		{ID: "files.read", SkillID: "filesystem", Category: "read", Risk: model.RiskLow, SideEffects: nil},
	}
	for _, t := range defaults {
		c.tools[t.ID] = t
	}
}

// Register adds or replaces a tool in the catalog — used for dynamically
// registered skill adapters.
func (c *Catalog) Register(entry *model.ToolCatalogEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("catalog: tool id is required")
	}
	switch entry.Risk {
	case model.RiskLow, model.RiskMedium, model.RiskHigh, model.RiskCritical:
	default:
		return fmt.Errorf("catalog: unknown risk level %q", entry.Risk)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[entry.ID] = entry
	c.logger.Printf("registered tool %s (skill=%s, risk=%s)", entry.ID, entry.SkillID, entry.Risk)
	return nil
}

// Lookup returns one tool's catalog entry. ok is false for unknown tools —
// callers must treat unknown as blocked per §4.3.
func (c *Catalog) Lookup(toolID string) (*model.ToolCatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[toolID]
	return t, ok
}

// Delete removes a tool from the catalog.
func (c *Catalog) Delete(toolID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tools[toolID]; !ok {
		return fmt.Errorf("catalog: tool %q not found", toolID)
	}
	delete(c.tools, toolID)
	return nil
}

// List returns every registered tool, order unspecified.
func (c *Catalog) List() []*model.ToolCatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.ToolCatalogEntry, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	return out
}

// ToolsBySkill groups every catalog entry by its owning skill.
func (c *Catalog) ToolsBySkill() map[string][]*model.ToolCatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]*model.ToolCatalogEntry)
	for _, t := range c.tools {
		out[t.SkillID] = append(out[t.SkillID], t)
	}
	return out
}

// RuntimePolicy is the {"tools.allow": [...], "tools.deny": [...]} payload
// handed off to a deployed runtime.
type RuntimePolicy struct {
	ToolsAllow []string  `json:"tools.allow"`
	ToolsDeny  []string  `json:"tools.deny"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// ToRuntimePolicy emits the runtime-facing allow/deny policy shape from two
// resolved tool id lists.
func ToRuntimePolicy(allowed, blocked []string) RuntimePolicy {
	return RuntimePolicy{
		ToolsAllow:  allowed,
		ToolsDeny:   blocked,
		GeneratedAt: time.Now().UTC(),
	}
}

// Count returns the number of registered tools.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}
