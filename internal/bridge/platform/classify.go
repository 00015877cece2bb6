package platform

import (
	"errors"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"

	appErrors "github.com/chris-alexander-pop/system-design-library/pkg/errors"
)

// Classify maps a raw adapter error into the shared error taxonomy, sniffing
// the concrete SDK error types so DeliveryWorker can apply a uniform retry
// policy regardless of which platform raised the error.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return classifyHTTPStatus(restErr.Response.StatusCode, err)
	}

	var rateErr *slack.RateLimitedError
	if errors.As(err, &rateErr) {
		return appErrors.RateLimited("platform rate limit", err)
	}

	// slack-go returns SlackErrorResponse by value from some call paths and
	// by pointer from others (e.g. wrapped inside *slack.SlackErrorResponse
	// via errors.As-style SDK helpers); check both shapes rather than
	// assuming one.
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return classifySlackErrorCode(apiErr.Err, err)
	}
	var apiErrPtr *slack.SlackErrorResponse
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifySlackErrorCode(apiErrPtr.Err, err)
	}

	// Neither typed assertion matched — the SDK may return errors as a
	// different wrapper type across versions/call paths. Fall back to
	// matching the known Slack error codes directly against the error
	// string so permanent errors still degrade safely instead of silently
	// becoming CodeInternal.
	if classified := classifySlackErrorCode(err.Error(), err); !appErrors.Is(classified, appErrors.CodeInternal) {
		return classified
	}

	if isNetworkTimeout(err) {
		return appErrors.Unavailable("platform call timed out", err)
	}

	return appErrors.Internal("unclassified platform error", err)
}

func classifyHTTPStatus(status int, cause error) error {
	switch {
	case status == 429:
		return appErrors.RateLimited("platform rate limit", cause)
	case status == 403 || status == 404:
		return appErrors.Permanent("target refused or not found", cause)
	case status >= 500:
		return appErrors.Unavailable("platform server error", cause)
	case status >= 400:
		return appErrors.Permanent("permanent client error", cause)
	default:
		return appErrors.Internal("unexpected platform error", cause)
	}
}

// classifySlackErrorCode handles the string error codes Slack's Web API
// returns in a 200 response body (e.g. "channel_not_found",
// "message_not_found") rather than via HTTP status.
func classifySlackErrorCode(code string, cause error) error {
	switch {
	case code == "ratelimited":
		return appErrors.RateLimited("platform rate limit", cause)
	case strings.Contains(code, "not_found"), code == "channel_not_found", code == "not_in_channel":
		return appErrors.Permanent("target refused or not found", cause)
	default:
		return appErrors.Internal("unclassified slack error: "+code, cause)
	}
}

func isNetworkTimeout(err error) bool {
	return err != nil && strings.Contains(err.Error(), "context deadline exceeded")
}
