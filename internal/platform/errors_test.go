package platform

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuthentication},
		{http.StatusForbidden, KindAuthorization},
		{http.StatusNotFound, KindNotFound},
		{http.StatusConflict, KindAlreadyExists},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusBadGateway, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusUnprocessableEntity, KindInvalidRequest},
		{http.StatusBadRequest, KindInvalidRequest},
		{http.StatusOK, ""},
	}
	for _, tc := range cases {
		if got := ClassifyStatus(tc.status); got != tc.want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := &Error{Kind: KindNotFound, Op: "gitlab resolve", Status: 404, Message: "g/p"}
	wrapped := fmt.Errorf("resolve source project: %w", base)

	if !IsKind(wrapped, KindNotFound) {
		t.Fatalf("Expected KindNotFound through the wrap, got %q", KindOf(wrapped))
	}
	if IsKind(errors.New("plain"), KindNotFound) {
		t.Fatal("A plain error must carry no kind")
	}
}

func TestErrorString(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "full",
			err:  &Error{Kind: KindNotFound, Op: "gitlab resolve", Status: 404, Message: "g/p"},
			want: "gitlab resolve: not_found (HTTP 404): g/p",
		},
		{
			name: "wrapped cause only",
			err:  &Error{Kind: KindLocalTool, Op: "git push", Err: errors.New("exit status 128")},
			want: "git push: local_tool_failure: exit status 128",
		},
		{
			name: "bare kind",
			err:  &Error{Kind: KindConfiguration},
			want: "configuration_error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}
