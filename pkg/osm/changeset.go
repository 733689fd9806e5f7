package osm

import "sort"

// typeRank orders element kinds by dependency: nodes are referenced by
// ways, ways and nodes by relations.
func typeRank(t ElementType) int {
	switch t.WireType() {
	case TypeNode:
		return 0
	case TypeWay:
		return 1
	default:
		return 2
	}
}

// ChangePlan is the partitioned content of one upload: every pending edit
// sorted into its osmChange section.
type ChangePlan struct {
	Create []*EditObject
	Modify []*EditObject
	Delete []*EditObject
}

// PartitionEdits splits the pending edit set into creations and
// modifications and orders each section so referenced elements precede the
// elements that use them. Deletions are emitted in reverse dependency
// order, relations first, so the server never sees a dangling reference.
func PartitionEdits(edits, deletes []*EditObject) ChangePlan {
	var plan ChangePlan
	for _, o := range edits {
		if o.Synthetic() {
			plan.Create = append(plan.Create, o)
		} else {
			plan.Modify = append(plan.Modify, o)
		}
	}
	plan.Delete = append(plan.Delete, deletes...)

	forward := func(objs []*EditObject) {
		sort.SliceStable(objs, func(i, j int) bool {
			return typeRank(objs[i].Type) < typeRank(objs[j].Type)
		})
	}
	forward(plan.Create)
	forward(plan.Modify)
	sort.SliceStable(plan.Delete, func(i, j int) bool {
		return typeRank(plan.Delete[i].Type) > typeRank(plan.Delete[j].Type)
	})
	return plan
}

// Empty reports whether the plan carries no work.
func (p ChangePlan) Empty() bool {
	return len(p.Create) == 0 && len(p.Modify) == 0 && len(p.Delete) == 0
}

// Counts returns the per-section object counts.
func (p ChangePlan) Counts() (creates, modifies, deletes int) {
	return len(p.Create), len(p.Modify), len(p.Delete)
}

// Stamp writes the changeset id into every object in the plan. The server
// rejects uploads whose elements name a different changeset than the one
// the document targets.
func (p ChangePlan) Stamp(changesetID int64) {
	for _, section := range [][]*EditObject{p.Create, p.Modify, p.Delete} {
		for _, o := range section {
			o.Changeset = changesetID
		}
	}
}
