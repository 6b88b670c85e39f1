package errx_test

import (
	"errors"
	"testing"

	"github.com/iofold/iofold-sub002/pkg/errx"
)

func TestRegistry_RegisterPrefixesCode(t *testing.T) {
	reg := errx.NewRegistry("TEST")
	code := reg.Register("BROKEN", errx.TypeInternal, 500, "something broke")

	if code.Code != "TEST_BROKEN" {
		t.Fatalf("code = %q, want TEST_BROKEN", code.Code)
	}

	err := reg.New(code)
	if err.HTTPStatus != 500 || err.Type != errx.TypeInternal {
		t.Fatalf("unexpected error metadata: %+v", err)
	}
}

func TestHasCode(t *testing.T) {
	reg := errx.NewRegistry("TEST")
	missing := reg.Register("MISSING", errx.TypeNotFound, 404, "missing")
	other := reg.Register("OTHER", errx.TypeConflict, 409, "other")

	err := reg.New(missing).WithDetail("id", "x")
	if !errx.HasCode(err, missing) {
		t.Fatal("HasCode should match the registered code")
	}
	if errx.HasCode(err, other) {
		t.Fatal("HasCode must not match a different code")
	}
	if errx.HasCode(errors.New("plain"), missing) {
		t.Fatal("HasCode must not match plain errors")
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := errx.Wrap(cause, "operation failed", errx.TypeExternal)

	if !errors.Is(err, cause) {
		t.Fatal("wrapped error should unwrap to its cause")
	}

	var e *errx.Error
	if !errx.As(err, &e) {
		t.Fatal("wrapped error should be an *errx.Error")
	}
	if e.Type != errx.TypeExternal {
		t.Fatalf("type = %s, want EXTERNAL", e.Type)
	}
}

func TestWithDetail_Accumulates(t *testing.T) {
	err := errx.Validation("bad input").
		WithDetail("field", "name").
		WithDetail("reason", "empty")

	if len(err.Details) != 2 {
		t.Fatalf("expected 2 details, got %d", len(err.Details))
	}
	if err.HTTPStatus != 400 {
		t.Fatalf("validation errors map to 400, got %d", err.HTTPStatus)
	}
}
