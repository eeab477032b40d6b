package transport

import (
	"testing"

	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
)

func TestCqlErrorRetryable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		code      primitive.ErrorCode
		retryable bool
	}{
		{primitive.ErrorCodeOverloaded, true},
		{primitive.ErrorCodeUnavailable, true},
		{primitive.ErrorCodeIsBootstrapping, true},
		{primitive.ErrorCodeServerError, true},
		{primitive.ErrorCodeWriteTimeout, true},
		{primitive.ErrorCodeReadTimeout, true},
		{primitive.ErrorCodeSyntaxError, false},
		{primitive.ErrorCodeUnauthorized, false},
		{primitive.ErrorCodeInvalid, false},
	}
	for _, tc := range cases {
		e := &CqlError{Code: tc.code}
		if got := e.Retryable(); got != tc.retryable {
			t.Errorf("code %v: Retryable() = %v, want %v", tc.code, got, tc.retryable)
		}
	}
}

func TestCqlErrorUnprepared(t *testing.T) {
	t.Parallel()
	if !(&CqlError{Code: primitive.ErrorCodeUnprepared}).Unprepared() {
		t.Fatal("ErrorCodeUnprepared must report Unprepared() == true")
	}
	if (&CqlError{Code: primitive.ErrorCodeServerError}).Unprepared() {
		t.Fatal("an unrelated error code must not report Unprepared() == true")
	}
}

func TestNewCqlErrorCopiesServerMessage(t *testing.T) {
	t.Parallel()
	server := &message.ServerError{ErrorMessage: "node overloaded"}
	e := NewCqlError(server)
	if e.Code != primitive.ErrorCodeServerError {
		t.Fatalf("Code = %v, want ErrorCodeServerError", e.Code)
	}
	if e.Message != "node overloaded" {
		t.Fatalf("Message = %q, want %q", e.Message, "node overloaded")
	}
}
