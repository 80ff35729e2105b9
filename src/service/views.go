package service

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/resolver"
)

// PropertyView is the presentation of the state of one key.
type PropertyView struct {
	Property string      `json:"property" yaml:"property"`
	State    string      `json:"state" yaml:"state"`
	Value    string      `json:"value,omitempty" yaml:"value,omitempty"`
	Values   []string    `json:"values,omitempty" yaml:"values,omitempty"`
	Facts    []fact.Fact `json:"facts" yaml:"facts"`
}

// EntityView is the presentation of every property of an entity.
type EntityView struct {
	EntityID   string         `json:"entity_id" yaml:"entity_id"`
	AsOf       *time.Time     `json:"as_of,omitempty" yaml:"as_of,omitempty"`
	Properties []PropertyView `json:"properties" yaml:"properties"`
}

// NewPropertyView converts a classified state. The resolved value is the
// deterministic winner; Values lists the competing values of a conflict.
func NewPropertyView(property string, st resolver.State) PropertyView {
	v := PropertyView{
		Property: property,
		State:    st.Kind.String(),
		Facts:    make([]fact.Fact, 0, len(st.Facts)),
	}
	if value, ok := st.Value(); ok {
		v.Value = value
	}
	if st.Kind == resolver.Conflict {
		v.Values = st.Values()
	}
	for _, f := range st.Facts {
		v.Facts = append(v.Facts, *f)
	}
	return v
}

// NewEntityView converts the states of an entity, sorted by property.
func NewEntityView(entityID string, states map[string]resolver.State) EntityView {
	props := make([]string, 0, len(states))
	for p := range states {
		props = append(props, p)
	}
	sort.Strings(props)

	v := EntityView{
		EntityID:   entityID,
		Properties: make([]PropertyView, 0, len(props)),
	}
	for _, p := range props {
		v.Properties = append(v.Properties, NewPropertyView(p, states[p]))
	}
	return v
}

// ParseAsOf reads a point in time given either as RFC 3339 or as Unix
// nanoseconds. An empty string means now.
func ParseAsOf(s string) (int64, error) {
	if s == "" {
		return time.Now().UnixNano(), nil
	}
	if ns, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ns, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("as_of must be RFC 3339 or Unix nanoseconds: %q", s)
	}
	return t.UnixNano(), nil
}
