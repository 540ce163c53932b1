package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
)

const slackBodyKey = "slack.body"

// SlackSignature verifies X-Slack-Signature over the raw body with the app's
// signing secret. Requests outside Slack's five minute timestamp window are
// rejected too. On success the body is restored for downstream binding and
// kept under a context key for SlackBody.
func SlackSignature(signingSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			slackSignatureFailures.WithLabelValues("body").Inc()
			abortSlack(c, http.StatusBadRequest, "bad_request", "unreadable body")
			return
		}

		sv, err := slack.NewSecretsVerifier(c.Request.Header, signingSecret)
		if err != nil {
			slackSignatureFailures.WithLabelValues("headers").Inc()
			abortSlack(c, http.StatusUnauthorized, "unauthorized", "missing or stale signature headers")
			return
		}
		if _, err := sv.Write(body); err != nil {
			slackSignatureFailures.WithLabelValues("body").Inc()
			abortSlack(c, http.StatusBadRequest, "bad_request", "unreadable body")
			return
		}
		if err := sv.Ensure(); err != nil {
			slackSignatureFailures.WithLabelValues("mismatch").Inc()
			abortSlack(c, http.StatusUnauthorized, "unauthorized", "invalid signature")
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(slackBodyKey, body)
		c.Next()
	}
}

// SlackBody returns the verified raw body, reading it when SlackSignature
// did not run.
func SlackBody(c *gin.Context) ([]byte, error) {
	if v, ok := c.Get(slackBodyKey); ok {
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func abortSlack(c *gin.Context, status int, code, msg string) {
	LoggerFrom(c).Warn().Int("status", status).Str("code", code).Msg(msg)
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"message":    msg,
	})
}
