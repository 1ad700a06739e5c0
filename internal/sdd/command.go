package sdd

import (
	"fmt"
)

// Command is one of the allow-listed Agent-SDD workflow commands.
// The zero value is not a valid command.
type Command int

const (
	CommandExecuteTask Command = iota + 1
	CommandFix
	CommandTweak
	CommandCheckTask
	CommandQueueFix
	CommandQueueTweak
)

var commandNames = map[Command]string{
	CommandExecuteTask: "sdd-execute-task",
	CommandFix:         "sdd-fix",
	CommandTweak:       "sdd-tweak",
	CommandCheckTask:   "sdd-check-task",
	CommandQueueFix:    "sdd-queue-fix",
	CommandQueueTweak:  "sdd-queue-tweak",
}

var commandsByName = func() map[string]Command {
	m := make(map[string]Command, len(commandNames))
	for c, name := range commandNames {
		m[name] = c
	}
	return m
}()

// AllCommands returns every allow-listed command in declaration order.
func AllCommands() []Command {
	return []Command{
		CommandExecuteTask,
		CommandFix,
		CommandTweak,
		CommandCheckTask,
		CommandQueueFix,
		CommandQueueTweak,
	}
}

// ParseCommand maps a command name to a Command.
// Unknown names return a *RequestError wrapping ErrInvalidCommand.
func ParseCommand(name string) (Command, error) {
	if c, ok := commandsByName[name]; ok {
		return c, nil
	}
	return 0, &RequestError{
		Err:    ErrInvalidCommand,
		Value:  name,
		Reason: fmt.Sprintf("command %q is not allowed", name),
	}
}

// Valid reports whether c is one of the allow-listed commands.
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// MarshalText encodes the command as its name.
func (c Command) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a command name, rejecting names outside the allow-list.
func (c *Command) UnmarshalText(text []byte) error {
	parsed, err := ParseCommand(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
