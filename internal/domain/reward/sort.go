package reward

import (
	"cmp"
	"slices"
	"strings"

	"github.com/smartrx/smartrx/internal/platform/apierror"
)

type SortKey string

const (
	SortCreatedAt  SortKey = "created_at"
	SortTitle      SortKey = "title"
	SortActivity   SortKey = "activity"
	SortAmount     SortKey = "amount"
	SortRewardType SortKey = "reward_type"
)

var sortComparators = map[SortKey]func(a, b *LineItem) int{
	SortCreatedAt: func(a, b *LineItem) int { return a.CreatedAt.Compare(b.CreatedAt) },
	SortTitle: func(a, b *LineItem) int {
		return cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	},
	SortActivity:   func(a, b *LineItem) int { return cmp.Compare(a.ActivityName, b.ActivityName) },
	SortAmount:     func(a, b *LineItem) int { return a.Points.Cmp(b.Points) },
	SortRewardType: func(a, b *LineItem) int { return cmp.Compare(a.RewardType, b.RewardType) },
}

type SortSpec struct {
	Key  SortKey
	Desc bool
}

// DefaultSort is newest first.
var DefaultSort = SortSpec{Key: SortCreatedAt, Desc: true}

// ParseSort validates ?sort_by= and ?sort_dir=. Empty values take the defaults.
func ParseSort(key, dir string) (SortSpec, error) {
	spec := DefaultSort
	if key != "" {
		k := SortKey(strings.ToLower(key))
		if _, ok := sortComparators[k]; !ok {
			return spec, apierror.BadRequest(
				"invalid sort_by %q: must be one of created_at, title, activity, amount, reward_type", key)
		}
		spec.Key = k
	}
	switch strings.ToLower(dir) {
	case "", "desc":
		spec.Desc = true
	case "asc":
		spec.Desc = false
	default:
		return spec, apierror.BadRequest("invalid sort_dir %q: must be asc or desc", dir)
	}
	return spec, nil
}

// Apply sorts items in place. Ties fall back to (source, source_id, kind)
// ascending so pages are stable.
func (s SortSpec) Apply(items []LineItem) {
	compare, ok := sortComparators[s.Key]
	if !ok {
		compare = sortComparators[SortCreatedAt]
	}
	slices.SortStableFunc(items, func(a, b LineItem) int {
		c := compare(&a, &b)
		if s.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		if c = cmp.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		if c = cmp.Compare(a.SourceID, b.SourceID); c != 0 {
			return c
		}
		return cmp.Compare(a.Kind, b.Kind)
	})
}
