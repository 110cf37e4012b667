package transfer

import "strings"

const (
	topicPrefix    = "gitlab-"
	topicMaxLength = 50
)

// ClassificationTopic derives the provenance topic attached to migrated
// repositories from the source project's namespace path. The namespace is
// lowercased, runs of characters outside [a-z0-9-] collapse to a single
// hyphen, and the result is truncated to the platform's topic length limit.
// The same namespace always yields the same topic.
func ClassificationTopic(pathWithNamespace string) string {
	namespace := pathWithNamespace
	if idx := strings.LastIndex(namespace, "/"); idx >= 0 {
		namespace = namespace[:idx]
	}
	namespace = strings.ToLower(namespace)

	var b strings.Builder
	b.WriteString(topicPrefix)
	lastHyphen := false
	for _, r := range namespace {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	topic := b.String()
	if len(topic) > topicMaxLength {
		topic = topic[:topicMaxLength]
	}
	return strings.TrimRight(topic, "-")
}
