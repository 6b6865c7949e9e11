package youtube

import (
	"reflect"
	"testing"
)

func TestExtractEmails(t *testing.T) {
	t.Run("first seen order across texts", func(t *testing.T) {
		got := ExtractEmails(
			"Business: first@example.com, backup second@example.org",
			"Also reach us at third@example.net",
		)
		want := []string{"first@example.com", "second@example.org", "third@example.net"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("ExtractEmails = %v, want %v", got, want)
		}
	})

	t.Run("case insensitive dedupe keeps first form", func(t *testing.T) {
		got := ExtractEmails("Contact@Example.COM and contact@example.com")
		if len(got) != 1 {
			t.Fatalf("got %v, want one email", got)
		}
		if got[0] != "Contact@Example.COM" {
			t.Errorf("got %q, want the first occurrence verbatim", got[0])
		}
	})

	t.Run("no emails", func(t *testing.T) {
		if got := ExtractEmails("subscribe for more crypto content"); len(got) != 0 {
			t.Errorf("got %v, want none", got)
		}
	})
}

func TestCapEmails(t *testing.T) {
	in := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com", "f@x.com"}
	if got := capEmails(in); len(got) != maxEmailsPerChannel {
		t.Errorf("capEmails kept %d, want %d", len(got), maxEmailsPerChannel)
	}
	short := []string{"a@x.com"}
	if got := capEmails(short); len(got) != 1 {
		t.Errorf("capEmails on short list = %v", got)
	}
}
