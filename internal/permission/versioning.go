// Version-controlled permission profiles with rollback, grounded on the
// teacher's internal/catalog policy-version-history pattern (an in-memory
// per-key slice of versions plus an active pointer, consulted by Push/
// Rollback/GetActive/GetHistory/GetDiff) generalized from tool policies to
// PermissionProfile documents keyed by profile id.
package permission

import (
	"fmt"
	"sync"
	"time"

	"github.com/ocx/workforce/internal/model"
)

// ProfileVersion is a single recorded revision of a PermissionProfile.
type ProfileVersion struct {
	Version   int                      `json:"version"`
	ProfileID string                   `json:"profileId"`
	Profile   model.PermissionProfile  `json:"profile"`
	CreatedAt time.Time                `json:"createdAt"`
	CreatedBy string                   `json:"createdBy"`
	Reason    string                   `json:"reason,omitempty"`
	Active    bool                     `json:"active"`
}

// ProfileVersionStore keeps an ordered history of profile revisions per
// profile id, in memory, with an active-version pointer that Rollback can
// move without losing the revisions it skips past.
type ProfileVersionStore struct {
	mu       sync.RWMutex
	versions map[string][]*ProfileVersion // profileID -> ordered versions
	active   map[string]int               // profileID -> active version number
}

// NewProfileVersionStore builds an empty version store.
func NewProfileVersionStore() *ProfileVersionStore {
	return &ProfileVersionStore{
		versions: make(map[string][]*ProfileVersion),
		active:   make(map[string]int),
	}
}

// Push records profile as the newest version of profileID and makes it
// active, deactivating whatever version was active before.
func (s *ProfileVersionStore) Push(profileID string, profile model.PermissionProfile, createdBy, reason string) *ProfileVersion {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.versions[profileID]
	for _, v := range hist {
		v.Active = false
	}
	next := len(hist) + 1
	v := &ProfileVersion{
		Version:   next,
		ProfileID: profileID,
		Profile:   profile,
		CreatedAt: time.Now().UTC(),
		CreatedBy: createdBy,
		Reason:    reason,
		Active:    true,
	}
	s.versions[profileID] = append(hist, v)
	s.active[profileID] = next
	return v
}

// Rollback reactivates a previously recorded version without deleting any
// history, returning the profile now considered active.
func (s *ProfileVersionStore) Rollback(profileID string, version int) (*model.PermissionProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.versions[profileID]
	if version < 1 || version > len(hist) {
		return nil, fmt.Errorf("permission: no version %d recorded for profile %s", version, profileID)
	}
	for _, v := range hist {
		v.Active = v.Version == version
	}
	s.active[profileID] = version
	p := hist[version-1].Profile
	return &p, nil
}

// GetActive returns the currently active profile version, if any exist.
func (s *ProfileVersionStore) GetActive(profileID string) (*ProfileVersion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.versions[profileID]
	active := s.active[profileID]
	if active < 1 || active > len(hist) {
		return nil, false
	}
	return hist[active-1], true
}

// GetHistory returns every recorded version for profileID, oldest first.
func (s *ProfileVersionStore) GetHistory(profileID string) []*ProfileVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.versions[profileID]
	out := make([]*ProfileVersion, len(hist))
	copy(out, hist)
	return out
}

// GetDiff reports which top-level gates changed between two recorded
// versions of the same profile, for a human-readable audit trail.
func (s *ProfileVersionStore) GetDiff(profileID string, fromVersion, toVersion int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.versions[profileID]
	if fromVersion < 1 || fromVersion > len(hist) || toVersion < 1 || toVersion > len(hist) {
		return nil, fmt.Errorf("permission: version out of range for profile %s", profileID)
	}
	from := hist[fromVersion-1].Profile
	to := hist[toVersion-1].Profile

	var diffs []string
	if from.MaxRiskLevel != to.MaxRiskLevel {
		diffs = append(diffs, fmt.Sprintf("maxRiskLevel: %s -> %s", from.MaxRiskLevel, to.MaxRiskLevel))
	}
	if from.Skills.Mode != to.Skills.Mode || !stringSlicesEqual(from.Skills.List, to.Skills.List) {
		diffs = append(diffs, "skills gate changed")
	}
	if !stringSlicesEqual(from.Tools.Allowed, to.Tools.Allowed) || !stringSlicesEqual(from.Tools.Blocked, to.Tools.Blocked) {
		diffs = append(diffs, "tool allow/block lists changed")
	}
	if from.RequireApproval.Enabled != to.RequireApproval.Enabled {
		diffs = append(diffs, fmt.Sprintf("approval gate enabled: %v -> %v", from.RequireApproval.Enabled, to.RequireApproval.Enabled))
	}
	if from.RateLimits != to.RateLimits {
		diffs = append(diffs, "rate limits changed")
	}
	if from.Constraints.SandboxMode != to.Constraints.SandboxMode {
		diffs = append(diffs, fmt.Sprintf("sandboxMode: %v -> %v", from.Constraints.SandboxMode, to.Constraints.SandboxMode))
	}
	return diffs, nil
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
