package main

import (
	"fmt"
	"strings"

	"github.com/nstogner/lazymcp/pkg/domain"
)

const helpText = `Commands:
  /agents                          choose an agent
  /agent <name>                    switch to an agent
  /new <name>                      create an agent and switch to it
  /delete [name]                   delete an agent (default: the active one)
  /clear                           clear the active agent's history
  /perms                           edit tool permissions
  /allow <server> [function] on|off
  /cycle <server> <function>       advance the confirmation policy
  /reset-default                   restore the default agent's permissions
  /refresh                         reload the agent list
  /help                            show this help
  /exit                            quit`

// command is a parsed slash command.
type command struct {
	name string
	args []string
}

// parseCommand splits a slash command. Input that is not a command returns false.
func parseCommand(input string) (command, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || strings.HasPrefix(input, "/tool ") {
		return command{}, false
	}
	fields := strings.Fields(input)
	return command{name: strings.TrimPrefix(fields[0], "/"), args: fields[1:]}, true
}

// allowArgs decodes "/allow <server> [function] on|off".
func allowArgs(args []string) (server, function string, allowed bool, err error) {
	if len(args) < 2 || len(args) > 3 {
		return "", "", false, fmt.Errorf("usage: /allow <server> [function] on|off")
	}
	switch strings.ToLower(args[len(args)-1]) {
	case "on", "true", "yes":
		allowed = true
	case "off", "false", "no":
	default:
		return "", "", false, fmt.Errorf("expected on or off, got %q", args[len(args)-1])
	}
	server = args[0]
	if len(args) == 3 {
		function = args[1]
	}
	return server, function, allowed, nil
}

// decisionForKey maps the tool call modal keys to decisions.
func decisionForKey(key string) (domain.ConfirmationDecision, bool) {
	switch key {
	case "1", "y":
		return domain.DecisionAlwaysAsk, true
	case "2", "a":
		return domain.DecisionAlwaysConfirmed, true
	case "3", "n":
		return domain.DecisionReject, true
	case "4", "x":
		return domain.DecisionAlwaysRejected, true
	}
	return "", false
}
