package aggregator

import "contact-aggregator/internal/models"

// groupedEntity is an entity plus the key that identifies duplicates of it.
// A nil key never matches another entity.
type groupedEntity struct {
	entity models.ContactEntity
	key    *string
}

// entityGroups groups entities by lookup key, keeping first-seen group order
// and insertion order within a group.
type entityGroups struct {
	order  []string
	groups map[string][]groupedEntity
}

func newEntityGroups() *entityGroups {
	return &entityGroups{groups: make(map[string][]groupedEntity)}
}

// add inserts e unless it has no name or its id is already in the group.
func (g *entityGroups) add(e models.ContactEntity, key *string) {
	if e.Name == nil {
		return
	}
	members, ok := g.groups[e.LookupKey]
	if !ok {
		g.order = append(g.order, e.LookupKey)
	}
	for _, m := range members {
		if m.entity.ID == e.ID {
			return
		}
	}
	g.groups[e.LookupKey] = append(members, groupedEntity{entity: e, key: key})
}

// filter keeps, per group, the first primary entity if there is one, and
// otherwise every entity whose key was not seen before in that group.
func (g *entityGroups) filter() []models.ContactEntity {
	var out []models.ContactEntity
	for _, lookupKey := range g.order {
		members := g.groups[lookupKey]

		primary := -1
		for i, m := range members {
			if m.entity.Primary {
				primary = i
				break
			}
		}
		if primary >= 0 {
			out = append(out, members[primary].entity)
			continue
		}

		seen := make(map[string]struct{}, len(members))
		for _, m := range members {
			if m.key == nil {
				out = append(out, m.entity)
				continue
			}
			if _, dup := seen[*m.key]; dup {
				continue
			}
			seen[*m.key] = struct{}{}
			out = append(out, m.entity)
		}
	}
	return out
}
