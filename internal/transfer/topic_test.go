package transfer

import (
	"strings"
	"testing"
)

func TestClassificationTopic(t *testing.T) {
	cases := []struct {
		name string
		path string
		want string
	}{
		{"single namespace", "platform/billing", "gitlab-platform"},
		{"nested namespace", "platform/payments/billing", "gitlab-platform-payments"},
		{"uppercase is lowered", "Platform/Billing", "gitlab-platform"},
		{"special runs collapse to one hyphen", "team_a (old)/proj", "gitlab-team-a-old"},
		{"no namespace treats the path as its own namespace", "standalone", "gitlab-standalone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassificationTopic(tc.path); got != tc.want {
				t.Fatalf("ClassificationTopic(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}

	t.Run("long namespaces are truncated to the length limit", func(t *testing.T) {
		path := strings.Repeat("verylongsegment/", 6) + "project"
		topic := ClassificationTopic(path)
		if len(topic) > topicMaxLength {
			t.Fatalf("Topic %q exceeds %d characters", topic, topicMaxLength)
		}
		if !strings.HasPrefix(topic, "gitlab-") {
			t.Fatalf("Topic %q lost its prefix", topic)
		}
		if strings.HasSuffix(topic, "-") {
			t.Fatalf("Topic %q ends with a hyphen", topic)
		}
	})

	t.Run("same namespace always yields the same topic", func(t *testing.T) {
		first := ClassificationTopic("platform/billing")
		second := ClassificationTopic("platform/invoices")
		if first != second {
			t.Fatalf("Expected identical topics, got %q and %q", first, second)
		}
	})
}
