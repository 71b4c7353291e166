package umqtt

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// checkTopicString applies the rules shared by topic names and filters.
// MQTT 3.1.1: Section 4.7.3
func checkTopicString(s string, invalid error) error {
	if s == "" {
		return ErrEmptyTopic
	}
	if len(s) > maxUint16 || !utf8.ValidString(s) || strings.IndexByte(s, 0) >= 0 {
		return invalid
	}
	return nil
}

// ValidateTopicName validates a topic used for PUBLISH.
// Topic names cannot contain wildcards.
func ValidateTopicName(topic string) error {
	if err := checkTopicString(topic, ErrInvalidTopicName); err != nil {
		return err
	}
	if containsWildcard(topic) {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateTopicFilter validates a topic filter used for SUBSCRIBE.
// '+' must occupy a whole level, '#' must occupy the last level.
func ValidateTopicFilter(filter string) error {
	if err := checkTopicString(filter, ErrInvalidTopicFilter); err != nil {
		return err
	}

	rest := filter
	for {
		level, tail, more := strings.Cut(rest, string(topicSeparator))

		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return ErrInvalidTopicFilter
		}
		if strings.Contains(level, multiLevelWildcard) && (level != multiLevelWildcard || more) {
			return ErrInvalidTopicFilter
		}

		if !more {
			return nil
		}
		rest = tail
	}
}

// TopicMatch reports whether topic matches filter.
// Topics starting with '$' are not matched by a leading wildcard.
// MQTT 3.1.1: Section 4.7
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	if topic[0] == '$' && (strings.HasPrefix(filter, singleLevelWildcard) || strings.HasPrefix(filter, multiLevelWildcard)) {
		return false
	}

	for {
		flevel, frest, fmore := strings.Cut(filter, string(topicSeparator))
		if flevel == multiLevelWildcard {
			return true
		}

		tlevel, trest, tmore := strings.Cut(topic, string(topicSeparator))
		if flevel != singleLevelWildcard && flevel != tlevel {
			return false
		}

		switch {
		case !fmore && !tmore:
			return true
		case !fmore:
			return false
		case !tmore:
			// "a/#" also matches the parent level "a".
			return frest == multiLevelWildcard
		}

		filter, topic = frest, trest
	}
}

// containsWildcard returns true if the string contains a wildcard character.
func containsWildcard(s string) bool {
	return strings.ContainsAny(s, "#+")
}
