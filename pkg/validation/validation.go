// Package validation wraps go-playground/validator with field names taken
// from struct tags, so errors name config keys or JSON fields.
package validation

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var instances sync.Map // tag name -> *validator.Validate

// For returns a shared validator that reports fields by their tag name
// (e.g. "json" or "mapstructure").
func For(tag string) *validator.Validate {
	if v, ok := instances.Load(tag); ok {
		return v.(*validator.Validate)
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	actual, _ := instances.LoadOrStore(tag, v)
	return actual.(*validator.Validate)
}

// Errors maps each failing field path to the rules it broke, e.g.
// {"database.leader_dsn": ["required"]}. Paths drop the root struct name
// and are prefixed with prefix. It returns nil for errors that did not come
// from the validator.
func Errors(err error, prefix string) map[string][]string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}

	out := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		key := fe.Namespace()
		if i := strings.Index(key, "."); i >= 0 {
			key = key[i+1:]
		}
		key = prefix + key

		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[key] = append(out[key], rule)
	}
	return out
}

// Summary renders Errors as "field failed rule; ..." in field order.
func Summary(errs map[string][]string) string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, rule := range errs[k] {
			parts = append(parts, k+" failed "+rule)
		}
	}
	return strings.Join(parts, "; ")
}
