package gateway

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("boom")
	err := ErrNotFound("member missing", cause)

	if got := err.Error(); got != "[NOT_FOUND] member missing: boom" {
		t.Errorf("unexpected error string: %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("expected unwrap to reach the cause")
	}

	bare := ErrConfig("token is required", nil)
	if got := bare.Error(); got != "[CONFIG_ERROR] token is required" {
		t.Errorf("unexpected error string: %q", got)
	}
}

func TestGetErrorCode(t *testing.T) {
	if code := GetErrorCode(ErrPermission("nope", nil)); code != ErrCodePermission {
		t.Errorf("expected PERMISSION_ERROR, got %s", code)
	}
	if code := GetErrorCode(errors.New("plain")); code != ErrCodeInternal {
		t.Errorf("expected INTERNAL_ERROR for plain errors, got %s", code)
	}
	// Wrapped gateway errors are still classified.
	wrapped := fmt.Errorf("outer: %w", ErrNotFound("inner", nil))
	if !IsNotFound(wrapped) {
		t.Error("expected wrapped error to classify as not found")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{ErrRateLimit("throttled", nil), true},
		{ErrTimeout("slow", nil), true},
		{ErrUnavailable("down", nil), true},
		{ErrConnection("reset", nil), true},
		{ErrNotFound("gone", nil), false},
		{ErrInvalidInput("bad", nil), false},
		{nil, false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestMapDiscordError(t *testing.T) {
	restErr := func(code int) error {
		return &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: code}}
	}

	cases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"unknown member", restErr(discordgo.ErrCodeUnknownMember), ErrCodeNotFound},
		{"unknown user", restErr(discordgo.ErrCodeUnknownUser), ErrCodeNotFound},
		{"unknown channel", restErr(discordgo.ErrCodeUnknownChannel), ErrCodeNotFound},
		{"missing permissions", restErr(discordgo.ErrCodeMissingPermissions), ErrCodePermission},
		{"missing access", restErr(discordgo.ErrCodeMissingAccess), ErrCodePermission},
		{"rate limited", &discordgo.RateLimitError{}, ErrCodeRateLimit},
		{"plain", errors.New("dial tcp: reset"), ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := mapDiscordError("op failed", tc.err)
			if mapped.Code != tc.want {
				t.Errorf("got code %s, want %s", mapped.Code, tc.want)
			}
			if !errors.Is(mapped, tc.err) {
				t.Error("mapped error should wrap the cause")
			}
		})
	}

	if mapDiscordError("op", nil) != nil {
		t.Error("nil error should map to nil")
	}
}
