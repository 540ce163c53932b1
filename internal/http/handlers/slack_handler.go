package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/tbourn/slack-agent/internal/http/middleware"
	"github.com/tbourn/slack-agent/internal/slackbot"
)

// SlackEvents godoc
// @ID          slackEvents
// @Summary     Slack Events API webhook
// @Description Answers the URL verification challenge, otherwise hands supported callbacks to the agent and acknowledges immediately. Requires a valid Slack signature.
// @Tags        Slack
// @Accept      json
// @Produce     plain
// @Success     200  {string} string "Challenge or empty body"
// @Failure     400  {object} handlers.ErrorResponse "Invalid payload"
// @Failure     401  {object} handlers.ErrorResponse "Bad signature"
// @Router      /slack/events [post]
func (h *Handlers) SlackEvents(c *gin.Context) {
	lg := middleware.LoggerFrom(c)
	body, err := middleware.SlackBody(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	var challenge slackevents.ChallengeResponse
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Type == slackevents.URLVerification {
		if err := json.Unmarshal(body, &challenge); err != nil || challenge.Challenge == "" {
			fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "missing challenge")
			return
		}
		lg.Info().Msg("answering url verification")
		c.Data(http.StatusOK, "text/plain", []byte(challenge.Challenge))
		return
	}

	outer, err := slackbot.ParseEvent(body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "invalid event payload")
		return
	}

	// Acknowledge whatever happens next; Slack redelivers on anything else.
	if ev, ok := slackbot.ToEvent(outer, h.botUserID); ok && h.dispatch != nil {
		h.dispatch.Dispatch(ev)
	} else {
		lg.Debug().Str("type", outer.Type).Str("inner", outer.InnerEvent.Type).Msg("slack event ignored")
	}
	c.Status(http.StatusOK)
}

// SlackCommands godoc
// @ID          slackCommands
// @Summary     Slack slash command webhook
// @Description Runs the agent's slash command and replies ephemerally. Requires a valid Slack signature.
// @Tags        Slack
// @Accept      x-www-form-urlencoded
// @Produce     json
// @Success     200  {object} slackbot.EphemeralResponse
// @Failure     400  {object} handlers.ErrorResponse "Invalid payload"
// @Failure     401  {object} handlers.ErrorResponse "Bad signature"
// @Router      /slack/commands [post]
func (h *Handlers) SlackCommands(c *gin.Context) {
	cmd, err := slack.SlashCommandParse(c.Request)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "invalid slash command")
		return
	}
	if h.dispatch == nil {
		ok(c, http.StatusOK, slackbot.Ephemeral("The agent is not accepting commands right now."))
		return
	}
	ok(c, http.StatusOK, slackbot.Ephemeral(h.dispatch.Command(c.Request.Context(), cmd)))
}
