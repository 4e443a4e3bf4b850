package journal

import (
	"fmt"
	"time"
)

// Fixed journal sentences.
const (
	OpenedLogin   = "Opened the login page."
	LoggedIn      = "Logged in."
	Liked         = "Liked the post."
	AlreadyLiked  = "Post was already liked."
	ControlMissed = "Like button not found."
	MovedNext     = "Moved to the next post."
	FeedEnded     = "Reached the end of the feed."
	BudgetUsed    = "Used the whole like budget."
)

func LoginFailed(err error) string {
	return fmt.Sprintf("Login failed: %v.", err)
}

func Searched(tag string) string {
	return fmt.Sprintf("Searched posts tagged #%s.", tag)
}

func SearchFailed(tag string, err error) string {
	return fmt.Sprintf("Tag search for #%s failed: %v.", tag, err)
}

func OpenedFirst(variant string) string {
	return fmt.Sprintf("Opened the first %s post.", variant)
}

func Stopped(err error) string {
	return fmt.Sprintf("Stopped engaging: %v.", err)
}

func BrowserFailed(err error) string {
	return fmt.Sprintf("Could not start the browser: %v.", err)
}

// Waiting renders a cool-down in whole seconds.
func Waiting(d time.Duration) string {
	return fmt.Sprintf("Waiting %d seconds.", int64(d/time.Second))
}
