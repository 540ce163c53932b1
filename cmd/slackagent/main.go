// Command slackagent runs the Slack AI agent.
//
//	slackagent serve    # Events API + slash command webhooks over HTTP
//	slackagent socket   # Socket Mode, no public endpoint needed
//	slackagent migrate  # create or update the schema and exit
//
// Configuration is read from the environment; a .env file in the working
// directory is loaded first when present.
package main

import (
	"os"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
