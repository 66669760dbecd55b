package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	if got := KindOf(NotFoundf("missing")); got != KindNotFound {
		t.Errorf("KindOf(NotFoundf) = %s", got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("plain error kind = %s, want internal", got)
	}
	// Classification survives wrapping.
	wrapped := fmt.Errorf("outer: %w", Conflictf("busy"))
	if got := KindOf(wrapped); got != KindConflict {
		t.Errorf("wrapped kind = %s, want conflict", got)
	}
	if got := KindOf(nil); got != KindInternal {
		t.Errorf("nil kind = %s, want internal", got)
	}
}

func TestValidationfCarriesField(t *testing.T) {
	err := Validationf("dateTime", "must be in the future")
	var de *Error
	if !errors.As(err, &de) {
		t.Fatal("not a *Error")
	}
	if de.Field != "dateTime" || de.Kind != KindValidation {
		t.Errorf("error = %+v", de)
	}
}

func TestInternalfUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Internalf(cause, "persisting rating")
	if !errors.Is(err, cause) {
		t.Error("cause lost through Internalf")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindUnauthorized, http.StatusForbidden},
		{KindValidation, http.StatusBadRequest},
		{KindInsufficientParticipants, http.StatusBadRequest},
		{KindInsufficientTeams, http.StatusBadRequest},
		{KindConflict, http.StatusConflict},
		{KindConcurrentCalculation, http.StatusConflict},
		{KindConcurrentRatingUpdate, http.StatusConflict},
		{KindELOProcessing, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.kind); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	if got := Validationf("rating", "out of range").Error(); got != "validation: out of range (field rating)" {
		t.Errorf("Error() = %q", got)
	}
	if got := Conflictf("already joined").Error(); got != "conflict: already joined" {
		t.Errorf("Error() = %q", got)
	}
}
