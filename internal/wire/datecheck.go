package wire

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"
)

var (
	timeType            = reflect.TypeFor[time.Time]()
	jsonUnmarshalerType = reflect.TypeFor[json.Unmarshaler]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

	// rawTimeTypes caches, per decode target type, whether it holds a
	// time.Time that encoding/json would decode as RFC 3339.
	rawTimeTypes sync.Map
)

// checkDateFields rejects decode targets that hold a bare time.Time anywhere
// below the top level. Dates on this wire are millisecond epochs and must be
// declared as Millis.
func checkDateFields(t reflect.Type) error {
	if t == nil {
		return nil
	}
	if cached, ok := rawTimeTypes.Load(t); ok {
		if cached.(bool) {
			return fmt.Errorf("%v holds time.Time; declare dates as wire.Millis", t)
		}
		return nil
	}
	found := holdsRawTime(t, map[reflect.Type]bool{})
	rawTimeTypes.Store(t, found)
	if found {
		return fmt.Errorf("%v holds time.Time; declare dates as wire.Millis", t)
	}
	return nil
}

func holdsRawTime(t reflect.Type, seen map[reflect.Type]bool) bool {
	if t == timeType {
		return true
	}
	if seen[t] {
		return false
	}
	seen[t] = true

	// Types that decode themselves (Millis included) are trusted.
	if t.Implements(jsonUnmarshalerType) || reflect.PointerTo(t).Implements(jsonUnmarshalerType) ||
		t.Implements(textUnmarshalerType) || reflect.PointerTo(t).Implements(textUnmarshalerType) {
		return false
	}

	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return holdsRawTime(t.Elem(), seen)
	case reflect.Map:
		return holdsRawTime(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() && !f.Anonymous {
				continue
			}
			if f.Tag.Get("json") == "-" {
				continue
			}
			if holdsRawTime(f.Type, seen) {
				return true
			}
		}
	}
	return false
}
