package channels

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dusterbloom/nanobot/internal/bus"
	"github.com/dusterbloom/nanobot/internal/shared/cmdutils"
)

var cliExitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

// CLIChannel wires the terminal into the bus: stdin lines become inbound
// messages, agent replies come back through Send and are printed to stdout.
type CLIChannel struct {
	Base
	replies chan bus.OutboundMessage
	running bool
}

// NewCLIChannel creates a CLIChannel.
func NewCLIChannel(b *bus.MessageBus) *CLIChannel {
	return &CLIChannel{
		Base:    NewBase(bus.ChannelCLI, b, nil),
		replies: make(chan bus.OutboundMessage, 4),
	}
}

func (c *CLIChannel) Name() string { return bus.ChannelCLI }

func (c *CLIChannel) IsRunning() bool { return c.running }

// Start runs the stdin REPL. Blocks until ctx is cancelled or stdin closes.
func (c *CLIChannel) Start(ctx context.Context) error {
	fmt.Printf("CLI channel ready. Type 'exit' or press Ctrl+C to quit.\n\n")
	c.running = true
	defer func() { c.running = false }()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("You: ")

		scanDone := make(chan bool, 1)
		go func() {
			scanDone <- scanner.Scan()
		}()

		select {
		case ok := <-scanDone:
			if !ok {
				fmt.Println("\nGoodbye!")
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if cliExitCommands[strings.ToLower(line)] {
			fmt.Println("Goodbye!")
			return nil
		}

		c.HandleMessage("cli", "direct", line, nil, nil)
		c.waitForReply(ctx)
	}
}

// waitForReply blocks until the agent's reply arrives, then prints it.
// A reply with empty content means the message tool already delivered.
func (c *CLIChannel) waitForReply(ctx context.Context) {
	select {
	case msg := <-c.replies:
		cmdutils.PrintResponse(msg.Content)
	case <-ctx.Done():
	}
}

// Send hands the outbound reply to the REPL loop for printing.
func (c *CLIChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.replies <- msg
	return nil
}
