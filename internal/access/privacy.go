package access

import "github.com/estatedesk/crm/internal/models"

// ApplyPrivacy ANDs the privacy rules for rt onto pred. Private records stay
// visible to their owner under team scope and are hidden from everyone under
// brokerage scope. User and all scopes need no overlay. The overlay only ever
// narrows pred.
func ApplyPrivacy(pred *Predicate, p Principal, scope Scope, rt models.ResourceType, alias string) error {
	eff := EffectiveScope(p, scope)
	if eff != ScopeTeam && eff != ScopeBrokerage {
		return nil
	}

	var owner *string
	if eff == ScopeTeam {
		owner = &p.ID
	}

	switch rt.Privacy() {
	case models.PrivacyOwnFlag:
		if owner == nil {
			return pred.And(IsFalse(alias, models.ColIsPrivate))
		}
		return pred.And(AnyOf(IsFalse(alias, models.ColIsPrivate), Eq(alias, models.ColOwnerID, *owner)))
	case models.PrivacyLinkedLead:
		return pred.And(AnyOf(
			IsNull(alias, models.ColLeadID),
			membership{alias: alias, col: models.ColLeadID, sel: privateLeads(owner), not: true},
		))
	}

	return nil
}
