// Package ptrx contains small pointer helpers for optional struct fields.
package ptrx

import "time"

// Bool returns a pointer value for the bool value passed in.
func Bool(v bool) *bool {
	return &v
}

// String returns a pointer value for the string value passed in.
func String(v string) *string {
	return &v
}

// Int returns a pointer value for the int value passed in.
func Int(v int) *int {
	return &v
}

// Time returns a pointer value for the time.Time value passed in.
func Time(v time.Time) *time.Time {
	return &v
}

// StringValue returns the value of the string pointer passed in or empty string if the pointer is nil.
func StringValue(v *string) string {
	if v != nil {
		return *v
	}
	return ""
}

// IntValue returns the value of the int pointer passed in or 0 if the pointer is nil.
func IntValue(v *int) int {
	if v != nil {
		return *v
	}
	return 0
}

// Value returns the value of the pointer passed in or the zero value if the pointer is nil.
func Value[T any](v *T) T {
	if v != nil {
		return *v
	}
	var zero T
	return zero
}

// ValueOr returns the value of the pointer passed in or the default value if the pointer is nil.
func ValueOr[T any](v *T, def T) T {
	if v != nil {
		return *v
	}
	return def
}
