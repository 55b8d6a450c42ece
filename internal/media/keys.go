package media

import (
	"fmt"
	"regexp"
)

// Object store layout:
//
//	events/{eventID}/media/{callerID}/{mediaID}{ext}
//	events/{eventID}/thumbs/{callerID}/{mediaID}.jpg
//
// Counting everything under an event's media prefix yields the event total,
// and under a contributor's prefix the per-contributor total.

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidIdentifier reports whether id is safe to embed in an object key.
func ValidIdentifier(id string) bool {
	return identifierPattern.MatchString(id)
}

// EventPrefix is the prefix holding every accepted media object of an event.
func EventPrefix(eventID string) string {
	return fmt.Sprintf("events/%s/media/", eventID)
}

// ContributorPrefix is the prefix holding one contributor's media in an event.
func ContributorPrefix(eventID, callerID string) string {
	return fmt.Sprintf("events/%s/media/%s/", eventID, callerID)
}

// ObjectKey names an accepted media object.
func ObjectKey(eventID, callerID, mediaID, mime string) string {
	return ContributorPrefix(eventID, callerID) + mediaID + PrimaryExtension(mime)
}

// ThumbnailKey names the thumbnail stored next to a media object.
func ThumbnailKey(eventID, callerID, mediaID string) string {
	return fmt.Sprintf("events/%s/thumbs/%s/%s.jpg", eventID, callerID, mediaID)
}
