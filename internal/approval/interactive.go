package approval

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// InteractiveApprover implements approval via terminal prompts.
type InteractiveApprover struct {
	timeout      time.Duration
	autoApprove  bool
	colorEnabled bool
}

// NewInteractiveApprover creates a new interactive approver.
func NewInteractiveApprover(timeout time.Duration, autoApprove, colorEnabled bool) *InteractiveApprover {
	return &InteractiveApprover{
		timeout:      timeout,
		autoApprove:  autoApprove,
		colorEnabled: colorEnabled,
	}
}

// IsTTY reports whether stdin and stdout are attached to a terminal.
// Interactive approval is pointless without one.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// RequestApproval asks for user approval via the terminal.
func (a *InteractiveApprover) RequestApproval(ctx context.Context, request *Request) (*Response, error) {
	if a.autoApprove {
		return &Response{Approved: true, Message: "auto-approved"}, nil
	}

	a.display(request)

	return a.promptWithTimeout(ctx)
}

func (a *InteractiveApprover) display(request *Request) {
	separator := strings.Repeat("=", 80)

	fmt.Println()
	fmt.Println(a.colorize(separator, color.FgCyan))
	fmt.Println(a.colorize(fmt.Sprintf("Operation: %s", request.Operation), color.FgYellow, color.Bold))
	fmt.Println(a.colorize(fmt.Sprintf("Target: %s", request.Target), color.FgWhite))
	fmt.Println(a.colorize(separator, color.FgCyan))
	fmt.Println()

	if request.Summary != "" {
		fmt.Println(a.colorize("Summary:", color.FgCyan))
		fmt.Println(request.Summary)
		fmt.Println()
	}

	if len(request.Reasons) > 0 {
		fmt.Println(a.colorize("Risk indicators:", color.FgCyan))
		for _, reason := range request.Reasons {
			fmt.Printf("  - %s\n", reason)
		}
		fmt.Println()
	}

	if request.Diff != "" {
		fmt.Println(a.colorize("Changes:", color.FgCyan))
		fmt.Println(request.Diff)
		fmt.Println()
	}

	fmt.Println(a.colorize(separator, color.FgCyan))
}

func (a *InteractiveApprover) promptWithTimeout(ctx context.Context) (*Response, error) {
	responseChan := make(chan *Response, 1)
	errorChan := make(chan error, 1)

	go func() {
		response, err := a.readUserInput()
		if err != nil {
			errorChan <- err
			return
		}
		responseChan <- response
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	select {
	case response := <-responseChan:
		return response, nil
	case err := <-errorChan:
		return nil, err
	case <-timeoutCtx.Done():
		// Timeout defaults to reject.
		fmt.Println()
		fmt.Println(a.colorize("Timeout - operation rejected", color.FgRed))
		return &Response{Approved: false, Message: "approval timeout"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *InteractiveApprover) readUserInput() (*Response, error) {
	fmt.Println()
	fmt.Println(a.colorize("Allow this operation?", color.FgYellow, color.Bold))
	fmt.Println("  [y] Yes, run it")
	fmt.Println("  [n] No, refuse")
	fmt.Print(a.colorize("Choice: ", color.FgCyan))

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	switch strings.TrimSpace(strings.ToLower(input)) {
	case "y", "yes":
		return &Response{Approved: true, Message: "approved by user"}, nil
	case "n", "no", "":
		return &Response{Approved: false, Message: "rejected by user"}, nil
	default:
		fmt.Println(a.colorize("Invalid choice. Please enter y or n.", color.FgRed))
		return a.readUserInput()
	}
}

func (a *InteractiveApprover) colorize(text string, attributes ...color.Attribute) string {
	if !a.colorEnabled {
		return text
	}
	c := color.New(attributes...)
	return c.Sprint(text)
}
