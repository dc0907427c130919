package bowtie

import (
	"database/sql/driver"
	"reflect"
)

// Optional is a value that may be absent. Absent Optionals bound to query,
// header, cookie or body params are left out of the request.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// IsPresent reports whether a value is present.
func (o Optional[T]) IsPresent() bool {
	return o.ok
}

// OrElse returns the value or fallback when absent.
func (o Optional[T]) OrElse(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

func (o Optional[T]) optionalValue() (any, bool) {
	return o.value, o.ok
}

type optionalValuer interface {
	optionalValue() (any, bool)
}

// maybe is the single internal "may be absent" representation every
// argument is normalized into before it reaches the request.
type maybe struct {
	value   any
	present bool
}

// unwrapOptional normalizes the supported optional conventions:
// Optional[T], database/sql null types (anything implementing driver.Valuer,
// such as sql.NullString or sql.Null[T]) and plain nilable values.
// Nested containers are unwrapped until a plain value remains.
func unwrapOptional(arg any) maybe {
	for depth := 0; depth < 8; depth++ {
		// A nil *Optional[T] or *sql.NullString satisfies the interfaces
		// below through its pointer receiver set.
		if isNilValue(arg) {
			return maybe{}
		}
		switch v := arg.(type) {
		case nil:
			return maybe{}
		case optionalValuer:
			inner, ok := v.optionalValue()
			if !ok {
				return maybe{}
			}
			arg = inner
			continue
		case driver.Valuer:
			if !isSQLNull(v) {
				return maybe{value: arg, present: true}
			}
			inner, err := v.Value()
			if err != nil || inner == nil {
				return maybe{}
			}
			arg = inner
			continue
		}

		rv := reflect.ValueOf(arg)
		switch rv.Kind() {
		case reflect.Pointer:
			if rv.IsNil() {
				return maybe{}
			}
			arg = rv.Elem().Interface()
			continue
		case reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
			if rv.IsNil() {
				return maybe{}
			}
		}
		return maybe{value: arg, present: true}
	}
	return maybe{value: arg, present: arg != nil}
}

// isSQLNull reports database/sql style null wrappers: structs carrying a
// boolean Valid field. Other Valuers (time-like or custom scalar types) are
// kept as the value itself.
func isSQLNull(v driver.Valuer) bool {
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Struct {
		return false
	}
	f := rv.FieldByName("Valid")
	return f.IsValid() && f.Kind() == reflect.Bool
}

func isNilValue(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
