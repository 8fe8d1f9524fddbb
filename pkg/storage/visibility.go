package storage

// IsVisible computes whether a user may see and act on an item.
//
// The truth table is deliberately small and closed:
//   - org:     visible iff the user is a member of the item's organisation
//   - private: visible iff the user owns the item
//   - custom:  visible iff the user owns the item or appears in the
//     item's explicit grant set
//
// Ownership is always implicit: the owner sees their item under every
// policy, so a custom policy with an empty grant set means owner-only,
// never nobody.
//
// Organisation administrators get no override here; elevated roles are an
// upstream concern applied, if at all, before this resolver is consulted.
// Unknown policy values resolve to invisible (deny by default).
func IsVisible(item *Item, userID string, isOrgMember bool) bool {
	if item == nil || userID == "" {
		return false
	}
	if item.OwnerID == userID {
		return true
	}

	switch item.Visibility {
	case VisibilityOrg:
		return isOrgMember
	case VisibilityPrivate:
		return false
	case VisibilityCustom:
		for _, id := range item.UserIDs {
			if id == userID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// FilterVisible returns the subset of items visible to the user.
//
// Invisible items are simply omitted; their existence is not otherwise
// disclosed. The input order is preserved.
func FilterVisible(items []*Item, userID string, isOrgMember bool) []*Item {
	visible := make([]*Item, 0, len(items))
	for _, item := range items {
		if IsVisible(item, userID, isOrgMember) {
			visible = append(visible, item)
		}
	}
	return visible
}
