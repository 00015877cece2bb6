package platform

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/require"

	appErrors "github.com/chris-alexander-pop/system-design-library/pkg/errors"
)

func TestClassify_Nil(t *testing.T) {
	require.NoError(t, Classify(nil))
}

func TestClassify_DiscordRateLimit(t *testing.T) {
	err := Classify(&discordgo.RESTError{
		Response: &http.Response{StatusCode: 429},
	})
	require.True(t, appErrors.Is(err, appErrors.CodeRateLimited))
}

func TestClassify_DiscordNotFoundIsPermanent(t *testing.T) {
	err := Classify(&discordgo.RESTError{
		Response: &http.Response{StatusCode: 404},
	})
	require.True(t, appErrors.Is(err, appErrors.CodePermanent))
}

func TestClassify_DiscordServerErrorIsUnavailable(t *testing.T) {
	err := Classify(&discordgo.RESTError{
		Response: &http.Response{StatusCode: 503},
	})
	require.True(t, appErrors.Is(err, appErrors.CodeUnavailable))
}

func TestClassify_SlackRateLimited(t *testing.T) {
	err := Classify(&slack.RateLimitedError{})
	require.True(t, appErrors.Is(err, appErrors.CodeRateLimited))
}

func TestClassify_SlackChannelNotFoundIsPermanent(t *testing.T) {
	err := Classify(slack.SlackErrorResponse{Err: "channel_not_found"})
	require.True(t, appErrors.Is(err, appErrors.CodePermanent))
}

func TestClassify_UnknownErrorIsInternal(t *testing.T) {
	err := Classify(errors.New("some other failure"))
	require.True(t, appErrors.Is(err, appErrors.CodeInternal))
}
