package graph

import (
	"reflect"
	"slices"
	"strings"

	"github.com/aretw0/goplan/pkg/domain"
)

// CompletenessRouter routes to incomplete unless the extraction claims completeness
// and every required field carries a value, in which case it fans out to all of fanout.
// A completeness claim contradicted by a missing field counts as incomplete.
func CompletenessRouter(required []string, incomplete string, fanout ...string) Router {
	required = slices.Clone(required)
	fanout = slices.Clone(fanout)
	return func(state *domain.ConversationState) []string {
		if len(MissingFields(state.Extracted, required)) > 0 || !state.Extracted.Claimed() {
			return []string{incomplete}
		}
		return slices.Clone(fanout)
	}
}

// MissingFields lists the required fields that are absent or blank, in the given order.
func MissingFields(ex domain.Extraction, required []string) []string {
	var missing []string
	for _, key := range required {
		if blank(ex.Fields[key]) {
			missing = append(missing, key)
		}
	}
	return missing
}

func blank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
