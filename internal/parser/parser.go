// Package parser handles parsing of command lines for the escrow admin
// console.
package parser

import (
	"fmt"
	"strings"
)

// Command represents a parsed command with its name and arguments.
type Command struct {
	Name string
	Args []string
}

// commandArgCounts defines the number of REQUIRED arguments for each command.
// Optional arguments (reasons, notes) are not counted here.
var commandArgCounts = map[string]int{
	"CREATE":   4, // <actor> <buyer> <seller> <amount>
	"SUBMIT":   2, // <actor> <txn_id>
	"ACCEPT":   2, // <actor> <txn_id>
	"REJECT":   2, // <actor> <txn_id> [reason...]
	"CANCEL":   2, // <actor> <txn_id> [reason...]
	"FUND":     2, // <actor> <txn_id>
	"START":    2, // <actor> <txn_id>
	"DELIVER":  2, // <actor> <txn_id>
	"COMPLETE": 2, // <actor> <txn_id>
	"DISPUTE":  3, // <actor> <txn_id> <reason...>
	"RESOLVE":  3, // <actor> <txn_id> <outcome> [note...]
	"STATUS":   1, // <txn_id>
	"ACTIONS":  2, // <actor> <txn_id>
	"HISTORY":  1, // <txn_id>
	"WALLET":   1, // <user>
	"TOPUP":    2, // <user> <amount>
	"LIST":     1, // <user>
	"EXIT":     0,
}

// Parse parses a command line into a Command struct. A '#' token is treated
// as a comment delimiter only once all required arguments for the command
// have been consumed.
func Parse(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty input")
	}

	tokens := strings.Fields(line)
	cmdName := strings.ToUpper(tokens[0])

	requiredArgs, known := commandArgCounts[cmdName]
	if !known {
		return nil, fmt.Errorf("unknown command: %s", tokens[0])
	}

	args, err := extractArgs(tokens[1:], requiredArgs, cmdName)
	if err != nil {
		return nil, err
	}

	return &Command{Name: cmdName, Args: args}, nil
}

// extractArgs collects arguments from tokens, honoring the comment rule.
func extractArgs(tokens []string, requiredCount int, cmdName string) ([]string, error) {
	args := make([]string, 0, requiredCount)

	for _, token := range tokens {
		if len(args) >= requiredCount {
			if strings.HasPrefix(token, "#") {
				break
			}
			args = append(args, token)
			continue
		}
		if strings.HasPrefix(token, "#") {
			return nil, fmt.Errorf("malformed input: unexpected '#' in required argument position for %s", cmdName)
		}
		args = append(args, token)
	}

	if len(args) < requiredCount {
		return nil, fmt.Errorf("insufficient arguments for %s: expected %d, got %d", cmdName, requiredCount, len(args))
	}
	return args, nil
}

// IsValidCommand checks if a command name is valid.
func IsValidCommand(name string) bool {
	_, ok := commandArgCounts[strings.ToUpper(name)]
	return ok
}
